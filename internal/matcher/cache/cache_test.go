package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/resilience"
)

type fakeBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	calls atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func result(fp string) *matcher.Result {
	return &matcher.Result{
		ItemID:      "a",
		ItemType:    items.TypeLost,
		Matches:     []ranker.ScoredItem{{ItemID: "b", Score: 0.42}},
		Fingerprint: fp,
	}
}

func TestKeyVariesWithEveryField(t *testing.T) {
	base := Key{ItemID: "a", Threshold: 0.15, Limit: 5, Fingerprint: "fp1"}
	variants := []Key{
		{ItemID: "b", Threshold: 0.15, Limit: 5, Fingerprint: "fp1"},
		{ItemID: "a", Threshold: 0.2, Limit: 5, Fingerprint: "fp1"},
		{ItemID: "a", Threshold: 0.15, Limit: 6, Fingerprint: "fp1"},
		{ItemID: "a", Threshold: 0.15, Limit: 5, Fingerprint: "fp2"},
	}
	assert.True(t, strings.HasPrefix(base.String(), keyPrefix))
	assert.Equal(t, base.String(), Key{ItemID: "a", Threshold: 0.15, Limit: 5, Fingerprint: "fp1"}.String())
	for _, v := range variants {
		assert.NotEqual(t, base.String(), v.String(), "%+v", v)
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := New(newFakeBackend(), time.Minute)
	ctx := context.Background()
	key := Key{ItemID: "a", Threshold: 0.15, Limit: 5, Fingerprint: "fp1"}

	computed := 0
	compute := func() (*matcher.Result, error) {
		computed++
		return result("fp1"), nil
	}

	first, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, computed)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestSetSkipsResultFromOtherFingerprint(t *testing.T) {
	c := New(newFakeBackend(), time.Minute)
	ctx := context.Background()
	key := Key{ItemID: "a", Fingerprint: "old"}

	c.Set(ctx, key, result("new"))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newFakeBackend(), time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), Key{ItemID: "a"}, func() (*matcher.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestInvalidate(t *testing.T) {
	backend := newFakeBackend()
	backend.data["unrelated"] = []byte("x")
	c := New(backend, time.Minute)
	ctx := context.Background()
	key := Key{ItemID: "a", Fingerprint: "fp1"}
	c.Set(ctx, key, result("fp1"))

	require.NoError(t, c.Invalidate(ctx))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Contains(t, backend.data, "unrelated")
}

func TestBackendFailureOpensBreaker(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errors.New("connection refused")
	cb := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	c := New(backend, time.Minute, WithBreaker(cb))
	ctx := context.Background()
	key := Key{ItemID: "a", Fingerprint: "fp1"}

	res, hit, err := c.GetOrCompute(ctx, key, func() (*matcher.Result, error) {
		return result("fp1"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fp1", res.Fingerprint)
	assert.Equal(t, resilience.StateOpen, cb.GetState())

	calls := backend.calls.Load()
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, calls, backend.calls.Load())
}
