// Package sqlite implements the cache store on an SQLite database using the
// pure Go driver registered as "sqlite".
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
)

// DriverName is the database/sql driver name to open databases for this store with.
const DriverName = "sqlite"

const (
	queryCreateTable = `CREATE TABLE IF NOT EXISTS cache_entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	entry BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
)`
	queryCreateIndex   = `CREATE INDEX IF NOT EXISTS cache_entries_expires_idx ON cache_entries (expires_at)`
	queryFetch         = `SELECT entry FROM cache_entries WHERE namespace = ? AND key = ? AND expires_at > ?`
	queryUpsert        = `INSERT INTO cache_entries (namespace, key, entry, expires_at) VALUES (?, ?, ?, ?) ON CONFLICT (namespace, key) DO UPDATE SET entry = excluded.entry, expires_at = excluded.expires_at`
	queryDeleteExpired = `DELETE FROM cache_entries WHERE expires_at <= ?`
)

// Cache implements condprovider.Store on SQLite.
type Cache struct {
	db *sql.DB

	now func() time.Time
}

// Get returns the entry stored under namespace and key unless its TTL hint has passed.
func (c *Cache) Get(ctx context.Context, namespace, key string) (*condprovider.CacheEntry, error) {
	var b []byte
	err := c.db.QueryRowContext(ctx, queryFetch, namespace, key, c.now().UnixMilli()).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, caches.ErrNoCacheItem
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	return condprovider.DecodeEntry(b)
}

// Set inserts or replaces the entry stored under namespace and key.
func (c *Cache) Set(ctx context.Context, namespace, key string, v *condprovider.CacheEntry, ttlMinutes int) error {
	b, err := condprovider.EncodeEntry(v)
	if err != nil {
		return err
	}

	expiresAt := c.now().Add(caches.TTL(ttlMinutes)).UnixMilli()
	if _, err := c.db.ExecContext(ctx, queryUpsert, namespace, key, b, expiresAt); err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// DeleteExpired removes all entries whose TTL hint has passed and returns how
// many were removed.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, queryDeleteExpired, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite delete expired: %w", err)
	}
	return res.RowsAffected()
}

// New creates the table if needed and returns a store on db.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	return NewWithTimeFunc(ctx, db, time.Now)
}

// NewWithTimeFunc is New with a custom clock.
func NewWithTimeFunc(ctx context.Context, db *sql.DB, now func() time.Time) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil db"}
	}

	for _, q := range []string{queryCreateTable, queryCreateIndex} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("sqlite create table: %w", err)
		}
	}

	return &Cache{
		db:  db,
		now: now,
	}, nil
}

// Open opens the database at path and returns a store on it. The caller owns
// closing the returned *sql.DB.
func Open(ctx context.Context, path string) (*Cache, *sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	c, err := New(ctx, db)
	if err != nil {
		return nil, nil, errors.Join(err, db.Close())
	}
	return c, db, nil
}
