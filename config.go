package condprovider

import (
	"strings"
	"sync/atomic"

	"github.com/dgduncan/go-cond-provider/caches"
)

const (
	// DefaultTTLMinutes is the default soft freshness window.
	DefaultTTLMinutes = 15

	// DefaultHardTTLMinutes is the default store expiry hint, seven days.
	DefaultHardTTLMinutes = 7 * 24 * 60
)

type Config struct {
	// Namespace partitions the underlying store. Required.
	Namespace string `yaml:"namespace"`

	// TTLMinutes is the soft freshness window. Within it a stored response is
	// served without contacting the origin. 0 always revalidates.
	TTLMinutes int `yaml:"ttlMinutes"`

	// HardTTLMinutes is passed to the store as expiry hint. The effective hint is
	// never shorter than TTLMinutes.
	HardTTLMinutes int `yaml:"hardTtlMinutes"`

	// IgnoreCacheControl stores Cache-Control: private responses. By default
	// they are not stored unless Settings allows caching private packages.
	IgnoreCacheControl bool `yaml:"ignoreCacheControl"`

	// Settings holds process level overrides. nil means no overrides.
	Settings *Settings `yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults for namespace.
func DefaultConfig(namespace string) Config {
	return Config{
		Namespace:      namespace,
		TTLMinutes:     DefaultTTLMinutes,
		HardTTLMinutes: DefaultHardTTLMinutes,
	}
}

// Validate checks the configuration for values the provider can not work with.
func (c Config) Validate() error {
	if c.Namespace == "" {
		return caches.ValidationError{Reason: "namespace is required"}
	}
	if strings.Contains(c.Namespace, caches.NamespaceSeparator) {
		return caches.ValidationError{Reason: "namespace must not contain " + caches.NamespaceSeparator}
	}
	if c.TTLMinutes < 0 {
		return caches.ValidationError{Reason: "ttlMinutes must not be negative"}
	}
	if c.HardTTLMinutes < 0 {
		return caches.ValidationError{Reason: "hardTtlMinutes must not be negative"}
	}
	return nil
}

func (c Config) storeTTLMinutes() int {
	return max(c.TTLMinutes, c.HardTTLMinutes)
}

// Settings carries process level switches set by the embedding application.
// It is safe for concurrent use.
type Settings struct {
	cachePrivatePackages atomic.Bool
}

// SetCachePrivatePackages allows caching responses marked Cache-Control: private.
func (s *Settings) SetCachePrivatePackages(v bool) {
	s.cachePrivatePackages.Store(v)
}

// CachePrivatePackages reports the current value. A nil Settings reports false.
func (s *Settings) CachePrivatePackages() bool {
	if s == nil {
		return false
	}
	return s.cachePrivatePackages.Load()
}

// Reset restores all switches to their defaults.
func (s *Settings) Reset() {
	s.cachePrivatePackages.Store(false)
}
