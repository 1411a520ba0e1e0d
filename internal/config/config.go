// Package config loads the YAML configuration of the command line tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
	"github.com/dgduncan/go-cond-provider/internal/logging"
)

// Backend types.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	condprovider.Config `yaml:",inline"`

	// CachePrivatePackages seeds condprovider.Settings.
	CachePrivatePackages bool `yaml:"cachePrivatePackages"`

	Backend Backend        `yaml:"backend"`
	Logging logging.Config `yaml:"logging"`
	Metrics Metrics        `yaml:"metrics"`
}

// Backend selects and configures the store.
type Backend struct {
	Type string `yaml:"type"`

	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn"`

	// Addr is the redis address.
	Addr string `yaml:"addr"`
	// Prefix is the redis key prefix.
	Prefix string `yaml:"prefix"`

	// Table is the dynamodb table name.
	Table string `yaml:"table"`
	// Region is the dynamodb region. Empty uses the AWS default chain.
	Region string `yaml:"region"`
	// Endpoint overrides the dynamodb endpoint, e.g. for dynamodb-local.
	Endpoint string `yaml:"endpoint"`
	// CreateTable creates the dynamodb table if it does not exist.
	CreateTable bool `yaml:"createTable"`

	// DeleteExpiredItems starts the expired row sweeper of sql backends.
	DeleteExpiredItems bool `yaml:"deleteExpiredItems"`
	// ExpiredTaskInterval is the sweeper interval.
	ExpiredTaskInterval time.Duration `yaml:"expiredTaskInterval"`
}

// Metrics configures the prometheus endpoint.
type Metrics struct {
	// Address to serve /metrics on. Empty disables the endpoint.
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Config: condprovider.DefaultConfig("default"),
		Backend: Backend{
			Type:                BackendMemory,
			ExpiredTaskInterval: caches.DefaultExpiredTaskTimer,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the YAML file at path on top of Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return Read(f)
}

// Read decodes YAML from r on top of Default. Unknown keys are rejected.
func Read(r io.Reader) (Config, error) {
	cfg := Default()

	b, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the provider and backend sections.
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	b := c.Backend
	switch b.Type {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if b.DSN == "" {
			return caches.ValidationError{Reason: fmt.Sprintf("backend %s requires dsn", b.Type)}
		}
	case BackendRedis:
		if b.Addr == "" {
			return caches.ValidationError{Reason: "backend redis requires addr"}
		}
	case BackendDynamoDB:
		if b.Table == "" {
			return caches.ValidationError{Reason: "backend dynamodb requires table"}
		}
	default:
		return caches.ValidationError{Reason: fmt.Sprintf("unknown backend type %q", b.Type)}
	}
	return nil
}

// NewSettings returns process settings seeded from the file.
func (c Config) NewSettings() *condprovider.Settings {
	s := &condprovider.Settings{}
	s.SetCachePrivatePackages(c.CachePrivatePackages)
	return s
}

// ProviderConfig returns the provider configuration with Settings attached.
func (c Config) ProviderConfig(settings *condprovider.Settings) condprovider.Config {
	pc := c.Config
	pc.Settings = settings
	return pc
}
