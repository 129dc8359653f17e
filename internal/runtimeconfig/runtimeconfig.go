// Package runtimeconfig holds the small set of enforcement knobs that can
// be changed without a restart: rate limiting and body size limits.
package runtimeconfig

import (
	"os"
	"strconv"
	"sync"
)

// Config is the mutable, admin-reconfigurable value every enforcement
// point reads from on each request.
type Config struct {
	RateLimitEnabled               bool   `json:"rateLimitEnabled"`
	RateLimitPerNamespacePerMinute uint64 `json:"rateLimitPerNamespacePerMinute"`
	BodySizeLimitSingleBytes       uint64 `json:"bodySizeLimitSingleBytes"`
	BodySizeLimitBatchBytes        uint64 `json:"bodySizeLimitBatchBytes"`
}

// Defaults returns Flux's built-in defaults.
func Defaults() Config {
	return Config{
		RateLimitEnabled:               true,
		RateLimitPerNamespacePerMinute: 10000,
		BodySizeLimitSingleBytes:       1048576,
		BodySizeLimitBatchBytes:        10485760,
	}
}

// FromEnv builds the initial Config, applying environment overrides on top
// of Defaults().
func FromEnv() Config {
	cfg := Defaults()
	if v, ok := parseBool("FLUX_RATE_LIMIT_ENABLED"); ok {
		cfg.RateLimitEnabled = v
	}
	if v, ok := parseUint("FLUX_RATE_LIMIT_PER_NAMESPACE_PER_MINUTE"); ok {
		cfg.RateLimitPerNamespacePerMinute = v
	}
	if v, ok := parseUint("FLUX_BODY_SIZE_LIMIT_SINGLE_BYTES"); ok {
		cfg.BodySizeLimitSingleBytes = v
	}
	if v, ok := parseUint("FLUX_BODY_SIZE_LIMIT_BATCH_BYTES"); ok {
		cfg.BodySizeLimitBatchBytes = v
	}
	return cfg
}

func parseBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func parseUint(key string) (uint64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Store holds a Config behind a reader-writer lock. Every enforcement point
// reads the current value per request via Get; Patch changes it under the
// write lock so fields arrive consistently to concurrent readers.
type Store struct {
	mu    sync.RWMutex
	value Config
}

// NewStore seeds a Store with the given initial Config.
func NewStore(initial Config) *Store {
	return &Store{value: initial}
}

// Get returns the current config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Patch applies fn to the stored config under the write lock and returns
// the result, so callers can update only the fields present in a PUT body
// while leaving the rest untouched.
func (s *Store) Patch(fn func(*Config)) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.value)
	return s.value
}
