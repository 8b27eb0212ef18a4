package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves one environment variable.  os.LookupEnv satisfies it;
// tests pass a map-backed function.
type Lookup func(key string) (string, bool)

// MapLookup adapts a map to Lookup.
func MapLookup(m map[string]string) Lookup {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// env reads typed values and collects every problem instead of stopping at
// the first one.
type env struct {
	lookup Lookup
	errs   []error
}

func newEnv(l Lookup) *env {
	if l == nil {
		l = os.LookupEnv
	}
	return &env{lookup: l}
}

func (e *env) get(k string) string {
	v, _ := e.lookup(k)
	return strings.TrimSpace(v)
}

// must records an error when a required variable is unset or empty.
func (e *env) must(k string) string {
	v := e.get(k)
	if v == "" {
		e.errs = append(e.errs, fmt.Errorf("missing required env var: %s", k))
	}
	return v
}

func (e *env) mustInt(k string) int {
	s := e.must(k)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int for %s: %q", k, s))
	}
	return n
}

func (e *env) str(k, d string) string {
	if v := e.get(k); v != "" {
		return v
	}
	return d
}

func (e *env) boolean(k string, d bool) bool {
	switch strings.ToLower(e.get(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func (e *env) integer(k string, d int) int {
	v := e.get(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int for %s: %q", k, v))
		return d
	}
	return n
}

func (e *env) dur(k string, d time.Duration) time.Duration {
	v := e.get(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid duration for %s: %q", k, v))
		return d
	}
	return dur
}

func (e *env) instant(k string, d time.Time) time.Time {
	v := e.get(k)
	if v == "" {
		return d
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid RFC3339 time for %s: %q", k, v))
		return d
	}
	return t
}

func (e *env) fail(format string, args ...any) {
	e.errs = append(e.errs, fmt.Errorf(format, args...))
}

func (e *env) err() error { return errors.Join(e.errs...) }
