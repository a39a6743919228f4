// Package queue meters downstream analysis work: a token bucket enforces
// the shared per-minute model budget and a bounded worker queue enforces
// the concurrency ceiling.
package queue

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRefillPeriod is the window the token budget is expressed over
const DefaultRefillPeriod = time.Minute

// minWait is the floor on a single refill wait, so a tiny deficit does not
// turn into a hot spin
const minWait = 50 * time.Millisecond

// TokenBucket is a capacity-C bucket refilling continuously at C per
// refill period. The token counter is the only state in this package
// touched by multiple goroutines; it is fully guarded by mu
type TokenBucket struct {
	capacity     int64
	refillPeriod time.Duration

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time

	// clock hooks, overridden in tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewTokenBucket builds a full bucket with the default one-minute period
func NewTokenBucket(capacity int64) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("token bucket capacity must be positive, got %d", capacity)
	}
	return &TokenBucket{
		capacity:     capacity,
		refillPeriod: DefaultRefillPeriod,
		tokens:       float64(capacity),
		lastRefill:   time.Now(),
		now:          time.Now,
		sleep:        time.Sleep,
	}, nil
}

// Capacity returns the bucket's maximum token count
func (b *TokenBucket) Capacity() int64 {
	return b.capacity
}

// Available returns the current token count after a refill pass
func (b *TokenBucket) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return int64(b.tokens)
}

// refillLocked credits tokens for the wall-clock time elapsed since the
// last refill, capped at capacity. Callers must hold mu
func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	rate := float64(b.capacity) / b.refillPeriod.Seconds()
	b.tokens += elapsed.Seconds() * rate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.lastRefill = now
}

// Acquire blocks until n tokens are available, then debits them. Tokens
// are spent on admission and never refunded. Requests above capacity are
// rejected outright: they could never be satisfied
func (b *TokenBucket) Acquire(n int64) error {
	if n <= 0 {
		return nil
	}
	if n > b.capacity {
		return fmt.Errorf("requested %d tokens exceeds bucket capacity %d", n, b.capacity)
	}

	b.mu.Lock()
	for {
		b.refillLocked()
		if float64(n) <= b.tokens {
			b.tokens -= float64(n)
			b.mu.Unlock()
			return nil
		}

		deficit := float64(n) - b.tokens
		rate := float64(b.capacity) / b.refillPeriod.Seconds()
		wait := time.Duration(deficit / rate * float64(time.Second))
		if wait < minWait {
			wait = minWait
		}

		// refill is purely time-driven, so sleeping with the lock
		// released and re-checking is equivalent to a timed wait
		b.mu.Unlock()
		b.sleep(wait)
		b.mu.Lock()
	}
}
