package config

import "time"

// RateLimitConfig drives the Redis token bucket in front of the write
// endpoints.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip, route, ip_route, ip_holder_route
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfigFrom reads the RATE_LIMIT_* variables.
func LoadRateLimitConfigFrom(lookup Lookup) (RateLimitConfig, error) {
	e := newEnv(lookup)
	cfg := RateLimitConfig{
		Enabled:        e.boolean("RATE_LIMIT_ENABLED", true),
		Capacity:       e.integer("RATE_LIMIT_CAPACITY", 20),
		RefillTokens:   e.integer("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: e.dur("RATE_LIMIT_REFILL_INTERVAL", 3*time.Second),
		TTL:            e.dur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    e.str("RATE_LIMIT_KEY_STRATEGY", "ip_holder_route"),
		Prefix:         e.str("RATE_LIMIT_PREFIX", "capsule:rl"),
		Debug:          e.boolean("RATE_LIMIT_DEBUG", false),
	}
	if every := e.dur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		cfg.RefillTokens = 1
		cfg.RefillInterval = every
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg, e.err()
}

// LoadRateLimitConfig reads the process environment.
func LoadRateLimitConfig() (RateLimitConfig, error) { return LoadRateLimitConfigFrom(nil) }
