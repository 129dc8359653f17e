// Package ratelimit enforces a token bucket per namespace, so one
// namespace exceeding its quota never reduces another namespace's capacity.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per namespace, created lazily on first
// use. Capacity and refill rate are re-read from the live config on every
// bucket creation, so a config change takes effect for namespaces seen
// after the change (existing buckets keep their already-configured rate
// until they are recreated, matching token-bucket semantics where changing
// capacity mid-flight would otherwise reset outstanding tokens unexpectedly).
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	perMinFn func() int
}

// New creates a Limiter whose bucket capacity/refill rate is derived from
// perMinute() at the time each namespace's bucket is first created.
func New(perMinute func() int) *Limiter {
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		perMinFn: perMinute,
	}
}

// Allow reports whether namespace may proceed, consuming one token if so.
func (l *Limiter) Allow(namespace string) bool {
	return l.bucketFor(namespace).Allow()
}

func (l *Limiter) bucketFor(namespace string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[namespace]; ok {
		return b
	}
	capacity := l.perMinFn()
	if capacity <= 0 {
		capacity = 10000
	}
	refillPerSecond := float64(capacity) / 60.0
	b := rate.NewLimiter(rate.Limit(refillPerSecond), capacity)
	l.buckets[namespace] = b
	return b
}

// Reset drops all per-namespace buckets, forcing them to be recreated with
// the current configured capacity on next use.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*rate.Limiter)
}

// RetryAfter is the fixed retry hint Flux returns alongside a 429.
const RetryAfter = 60 * time.Second
