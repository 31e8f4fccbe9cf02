// Package ratelimit throttles per-user request and verification-attempt
// rates behind a pluggable counter so a shared backend can replace the
// in-process one without touching callers.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int `yaml:"burst_size"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5.0,
		BurstSize:         10,
		Enabled:           true,
	}
}

// Counter is the per-key admission primitive. Implementations must be safe
// for concurrent use. The default is the in-process token bucket; a shared
// store (Redis and the like) can stand in for multi-instance deployments.
type Counter interface {
	// Allow reports whether one more event for key is admitted, consuming
	// capacity when it is.
	Allow(key string) bool
	// WaitTime reports how long until an event for key would be admitted.
	WaitTime(key string) time.Duration
	// Reset clears accumulated state for key.
	Reset(key string)
}

// bucket is a token bucket for a single key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(config Config, now time.Time) *bucket {
	return &bucket{
		tokens:     float64(config.BurstSize),
		maxTokens:  float64(config.BurstSize),
		refillRate: config.RequestsPerSecond,
		lastRefill: now,
	}
}

func (b *bucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) waitTime(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens >= 1 {
		return 0
	}
	seconds := (1 - b.tokens) / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// refill adds tokens for the elapsed time; callers hold the lock.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// TokenBucketCounter is the in-process Counter: one token bucket per key.
type TokenBucketCounter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewTokenBucketCounter creates a counter with sane config defaults.
func NewTokenBucketCounter(config Config) *TokenBucketCounter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerSecond * 2)
	}
	return &TokenBucketCounter{
		buckets: make(map[string]*bucket),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

func (c *TokenBucketCounter) Allow(key string) bool {
	return c.getBucket(key).allow(c.now())
}

func (c *TokenBucketCounter) WaitTime(key string) time.Duration {
	return c.getBucket(key).waitTime(c.now())
}

func (c *TokenBucketCounter) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, key)
}

func (c *TokenBucketCounter) getBucket(key string) *bucket {
	c.mu.RLock()
	b, exists := c.buckets[key]
	c.mu.RUnlock()
	if exists {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, exists = c.buckets[key]; exists {
		return b
	}
	if len(c.buckets) >= c.maxKeys {
		c.prune()
	}
	b = newBucket(c.config, c.now())
	c.buckets[key] = b
	return b
}

// prune drops keys whose buckets are nearly full, i.e. idle.
func (c *TokenBucketCounter) prune() {
	now := c.now()
	for key, b := range c.buckets {
		b.mu.Lock()
		b.refill(now)
		idle := b.tokens >= b.maxTokens*0.9
		b.mu.Unlock()
		if idle {
			delete(c.buckets, key)
		}
	}
}

// Limiter wraps a Counter with the enabled switch and key composition.
type Limiter struct {
	counter Counter
	enabled bool
}

// NewLimiter creates a limiter over the in-process token bucket counter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{counter: NewTokenBucketCounter(config), enabled: config.Enabled}
}

// NewLimiterWithCounter creates a limiter over a caller-supplied counter.
func NewLimiterWithCounter(counter Counter, enabled bool) *Limiter {
	return &Limiter{counter: counter, enabled: enabled}
}

// Allow reports whether a request for key is admitted.
func (l *Limiter) Allow(key string) bool {
	if !l.enabled {
		return true
	}
	return l.counter.Allow(key)
}

// WaitTime reports how long until a request for key would be admitted.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.enabled {
		return 0
	}
	return l.counter.WaitTime(key)
}

// Reset clears the limit state for key.
func (l *Limiter) Reset(key string) {
	l.counter.Reset(key)
}

// CompositeKey joins key parts with ":".
func CompositeKey(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}
