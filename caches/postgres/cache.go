package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
	//go:embed fetch_by_id.sql
	queryFetchByID string
	//go:embed insert_item.sql
	queryInsertItem string
)

// Config defines the configuration options for the PostgreSQL cache implementation.
type Config struct {
	// DeleteExpiredItems enables automatic cleanup of expired cache entries
	// through a background task.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// Logger receives errors of the cleanup task. If nil, they are discarded.
	Logger *zerolog.Logger
}

// Cache implements the condprovider.Store interface using PostgreSQL as the storage backend.
// Rows outlive their TTL hint until the cleanup task or DeleteExpired removes them,
// but are never returned after it.
type Cache struct {
	db *sql.DB

	now func() time.Time
}

// Get retrieves a cache entry from PostgreSQL by namespace and key.
// Returns caches.ErrNoCacheItem if the entry doesn't exist or its TTL hint has passed.
func (p *Cache) Get(ctx context.Context, namespace, key string) (*condprovider.CacheEntry, error) {
	stmt, err := p.db.PrepareContext(ctx, queryFetchByID)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var entry []byte
	if err := stmt.QueryRowContext(ctx, namespace, key, p.now().UTC()).Scan(&entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}

	return condprovider.DecodeEntry(entry)
}

// Set stores a cache entry in PostgreSQL, replacing any entry under the same
// namespace and key.
func (p *Cache) Set(ctx context.Context, namespace, key string, v *condprovider.CacheEntry, ttlMinutes int) error {
	entry, err := condprovider.EncodeEntry(v)
	if err != nil {
		return err
	}

	stmt, err := p.db.PrepareContext(ctx, queryInsertItem)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := p.now().UTC()
	if _, err := stmt.ExecContext(ctx, namespace, key, string(entry), now, now.Add(caches.TTL(ttlMinutes))); err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

// DeleteExpired removes all rows whose TTL hint has passed.
func (p *Cache) DeleteExpired(ctx context.Context) error {
	return deleteExpiredItems(ctx, p.db, p.now().UTC())
}

func createTable(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryCreateTable)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	if err != nil {
		return err
	}

	return nil
}

func deleteExpiredItems(ctx context.Context, db *sql.DB, now time.Time) error {
	stmt, err := db.PrepareContext(ctx, queryDeleteExpired)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, now)
	return err
}

func expiredTask(ctx context.Context, db *sql.DB, interval time.Duration, now func() time.Time, logger zerolog.Logger) {
	t := time.NewTimer(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("stopping expired item cleanup")
			return
		case <-t.C:
			if err := deleteExpiredItems(ctx, db, now().UTC()); err != nil {
				logger.Warn().Err(err).Msg("error deleting expired cache items")
			}
			_ = t.Reset(interval)
		}
	}
}

// New creates a new PostgreSQL cache instance with the provided configuration.
// It verifies the database connection, creates the necessary table structure, and
// optionally starts the cleanup task for expired items, which runs until ctx is done.
//
// Returns an error if:
// - The database handle is nil
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB, config *Config) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{
			Reason: "nil db",
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	c := &Cache{
		db: db,

		now: time.Now,
	}

	if config != nil && config.DeleteExpiredItems {
		interval := config.ExpiredTaskTimer
		if interval <= 0 {
			interval = caches.DefaultExpiredTaskTimer
		}
		logger := zerolog.Nop()
		if config.Logger != nil {
			logger = *config.Logger
		}
		go expiredTask(ctx, db, interval, c.now, logger)
	}

	return c, nil
}
