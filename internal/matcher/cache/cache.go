// Package cache keeps ranked match results in Redis. Keys embed the corpus
// fingerprint, so a refit that changes the corpus makes older entries
// unreachable without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/resilience"
)

const keyPrefix = "match:"

// Backend is the subset of pkg/redis.Client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one cached ranking.
type Key struct {
	ItemID      string
	Threshold   float64
	Limit       int
	Fingerprint string
}

func (k Key) String() string {
	raw := k.Fingerprint + "|" + k.ItemID +
		"|t=" + strconv.FormatFloat(k.Threshold, 'g', -1, 64) +
		"|l=" + strconv.Itoa(k.Limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

type MatchCache struct {
	backend Backend
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

type Option func(*MatchCache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *MatchCache) { c.metrics = m }
}

// WithBreaker guards backend calls with cb. While it is open every lookup
// is a miss and writes are skipped.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *MatchCache) { c.breaker = cb }
}

func New(backend Backend, ttl time.Duration, opts ...Option) *MatchCache {
	c := &MatchCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "match-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MatchCache) execute(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

// Get returns the cached result for key. Backend failures are logged and
// reported as misses.
func (c *MatchCache) Get(ctx context.Context, key Key) (*matcher.Result, bool) {
	k := key.String()
	var (
		data  []byte
		found bool
	)
	err := c.execute(func() error {
		var err error
		data, found, err = c.backend.Get(ctx, k)
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	if !found {
		c.miss()
		return nil, false
	}
	var result matcher.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "item_id", key.ItemID, "key", k)
	return &result, true
}

// Set stores result under key unless it was computed under a different
// fingerprint than the key names.
func (c *MatchCache) Set(ctx context.Context, key Key, result *matcher.Result) {
	if result == nil || result.Fingerprint != key.Fingerprint {
		return
	}
	k := key.String()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.execute(func() error {
		return c.backend.Set(ctx, k, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached result for key, or runs compute once per
// key across concurrent callers and caches its result. The bool reports a
// cache hit.
func (c *MatchCache) GetOrCompute(
	ctx context.Context,
	key Key,
	compute func() (*matcher.Result, error),
) (*matcher.Result, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*matcher.Result), false, nil
}

// Invalidate drops every cached ranking.
func (c *MatchCache) Invalidate(ctx context.Context) error {
	var deleted int64
	err := c.execute(func() error {
		var err error
		deleted, err = c.backend.FlushByPattern(ctx, keyPrefix+"*")
		return err
	})
	if err != nil {
		return fmt.Errorf("invalidating match cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *MatchCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *MatchCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *MatchCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
