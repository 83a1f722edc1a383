// Package ratelimit implements the per-source token bucket used to
// throttle outbound fetches against image sources.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// Limiter holds one token bucket per source id and sweeps buckets that have
// gone idle. The zero value is not usable; construct with New.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	idle    time.Duration

	stop chan struct{}
	once sync.Once
}

// New creates a Limiter and starts its background sweeper, removing buckets
// whose last refill is older than idle every sweepEvery tick.
func New(idle, sweepEvery time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*tokenBucket),
		idle:    idle,
		stop:    make(chan struct{}),
	}
	go l.sweepLoop(sweepEvery)
	return l
}

// Close stops the background sweeper. Safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// InitBucket installs a bucket of capacity maxRps for sourceId, starting
// full and refilling at maxRps tokens per second. Re-initialization
// replaces any existing bucket for the same source.
func (l *Limiter) InitBucket(sourceID string, maxRps float64) {
	if maxRps <= 0 {
		maxRps = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[sourceID] = &tokenBucket{
		tokens:     maxRps,
		maxTokens:  maxRps,
		refillRate: maxRps,
		lastRefill: time.Now(),
	}
}

// TryAcquire refills sourceId's bucket based on elapsed time and debits one
// token if available, returning whether the debit succeeded. Unknown
// source ids are unthrottled and always return true.
func (l *Limiter) TryAcquire(sourceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[sourceID]
	if !ok {
		return true
	}

	l.refill(b)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// GetWaitTime returns 0 if sourceId's bucket has a token available now;
// otherwise it returns ceil(1000/refillRate), the milliseconds one token
// takes to refill, without subtracting time already elapsed since the last
// refill. Unknown source ids always return 0.
func (l *Limiter) GetWaitTime(sourceID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[sourceID]
	if !ok {
		return 0
	}

	l.refill(b)
	if b.tokens >= 1 {
		return 0
	}
	return int64(math.Ceil(1000 / b.refillRate))
}

// refill must be called with l.mu held.
func (l *Limiter) refill(b *tokenBucket) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := math.Floor(elapsed.Seconds() * b.refillRate)
	if add > 0 {
		b.tokens = math.Min(b.maxTokens, b.tokens+add)
		b.lastRefill = now
	}
}

func (l *Limiter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := time.Now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
