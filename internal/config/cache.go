package config

import "time"

// CacheConfig defines settings for the capsule view cache.  Only responses
// the handler marks immutable are stored, so TTL can be long.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfigFrom reads the CACHE_* variables.
func LoadCacheConfigFrom(lookup Lookup) (CacheConfig, error) {
	e := newEnv(lookup)
	cfg := CacheConfig{
		Enabled:      e.boolean("CACHE_ENABLED", true),
		TTL:          e.dur("CACHE_TTL", time.Hour),
		Prefix:       e.str("CACHE_PREFIX", "capsule:cache"),
		MaxBodyBytes: e.integer("CACHE_MAX_BODY_BYTES", 1<<20),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return cfg, e.err()
}

// LoadCacheConfig reads the process environment.
func LoadCacheConfig() (CacheConfig, error) { return LoadCacheConfigFrom(nil) }
