// Package ratelimit is an in-memory token-bucket limiter keyed by client.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// refill tops the bucket up for the time since it was last seen.
func (b *bucket) refill(now time.Time, rate, capacity float64) {
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.seen).Seconds()*rate)
	b.seen = now
}

// Limiter grants each key limit requests per window with continuous refill,
// so bursts up to limit are allowed after a quiet period.
type Limiter struct {
	capacity float64
	rate     float64 // tokens per second
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: float64(limit),
		rate:     float64(limit) / window.Seconds(),
		window:   window,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// Allow takes a token for key. When none is left it returns false and the
// time until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.capacity <= 0 {
		return false, l.window
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, seen: now}
		l.buckets[key] = b
	}
	b.refill(now, l.rate, l.capacity)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) * float64(l.window) / l.capacity)
	return false, wait
}

// Run drops buckets idle for a whole window every interval until ctx is
// done. A bucket idle that long is full again, so dropping it is lossless.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict()
		}
	}
}

func (l *Limiter) evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for key, b := range l.buckets {
		if !b.seen.After(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}
