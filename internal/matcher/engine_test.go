package matcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items/memstore"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/metrics"
)

var everything = ranker.Options{Threshold: 0}

func item(id string, typ items.Type, description string) items.Item {
	return items.Item{ID: id, Type: typ, Description: description, Active: true}
}

func scenarioStore() *memstore.Store {
	return memstore.New(
		item("a", items.TypeLost, "Black leather wallet with ID cards"),
		item("b", items.TypeFound, "Found a black wallet containing cards"),
		item("c", items.TypeFound, "Blue water bottle"),
	)
}

func newEngine(t *testing.T, src ItemSource, opts ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), src, config.DefaultMatcherConfig(), opts...)
	require.NoError(t, err)
	return e
}

func ids(matches []ranker.ScoredItem) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ItemID
	}
	return out
}

func scoreOf(t *testing.T, matches []ranker.ScoredItem, id string) float64 {
	t.Helper()
	for _, m := range matches {
		if m.ItemID == id {
			return m.Score
		}
	}
	t.Fatalf("item %s not in matches %v", id, matches)
	return 0
}

func TestFindMatchesRanksOppositeType(t *testing.T) {
	e := newEngine(t, scenarioStore())
	ctx := context.Background()

	res, err := e.FindMatches(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, items.TypeLost, res.ItemType)
	require.Equal(t, []string{"b"}, ids(res.Matches))
	assert.Greater(t, res.Matches[0].Score, 0.3)
	assert.Less(t, res.Matches[0].Score, 1.0)

	all, err := e.FindMatchesWith(ctx, "a", everything)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(all.Matches))
	assert.Zero(t, scoreOf(t, all.Matches, "c"))
}

func TestFindMatchesNeverReturnsSameType(t *testing.T) {
	store := scenarioStore()
	store.Put(item("d", items.TypeLost, "Black leather wallet with ID cards"))
	e := newEngine(t, store)

	res, err := e.FindMatchesWith(context.Background(), "a", everything)
	require.NoError(t, err)
	assert.NotContains(t, ids(res.Matches), "d")
	assert.NotContains(t, ids(res.Matches), "a")
}

func TestRemovedItemDisappearsAfterNotification(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)
	ctx := context.Background()

	store.Delete("b")
	e.OnItemRemoved("b")
	assert.Equal(t, StateStale, e.State())

	res, err := e.FindMatchesWith(ctx, "a", everything)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(res.Matches))
	assert.Zero(t, res.Matches[0].Score)
	assert.Equal(t, StateFresh, e.State())
}

func TestEditedItemIsRescored(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)

	store.Put(item("a", items.TypeLost, "Blue water bottle"))
	e.OnItemChanged("a")

	res, err := e.FindMatchesWith(context.Background(), "a", everything)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(res.Matches))
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-9)
	assert.Zero(t, res.Matches[1].Score)
}

func TestScoresAreSymmetric(t *testing.T) {
	e := newEngine(t, scenarioStore())
	ctx := context.Background()

	fromLost, err := e.FindMatchesWith(ctx, "a", everything)
	require.NoError(t, err)
	fromFound, err := e.FindMatchesWith(ctx, "b", everything)
	require.NoError(t, err)

	assert.Equal(t, scoreOf(t, fromLost.Matches, "b"), scoreOf(t, fromFound.Matches, "a"))
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	e := newEngine(t, scenarioStore())
	ctx := context.Background()

	all, err := e.FindMatchesWith(ctx, "a", everything)
	require.NoError(t, err)
	exact := scoreOf(t, all.Matches, "b")

	res, err := e.FindMatchesWith(ctx, "a", ranker.Options{Threshold: exact})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Matches))
}

func TestEmptyOrStopwordOnlyDescription(t *testing.T) {
	for _, desc := range []string{"", "the and of with"} {
		store := scenarioStore()
		store.Put(item("d", items.TypeLost, desc))
		e := newEngine(t, store)
		ctx := context.Background()

		res, err := e.FindMatches(ctx, "d")
		require.NoError(t, err)
		assert.Empty(t, res.Matches)

		all, err := e.FindMatchesWith(ctx, "d", everything)
		require.NoError(t, err)
		require.Len(t, all.Matches, 2)
		for _, m := range all.Matches {
			assert.Zero(t, m.Score)
		}
	}
}

func TestNoCandidatesOfOppositeType(t *testing.T) {
	e := newEngine(t, memstore.New(item("a", items.TypeLost, "red umbrella")))
	res, err := e.FindMatchesWith(context.Background(), "a", everything)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestUnknownAndInactiveItems(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)
	ctx := context.Background()

	_, err := e.FindMatches(ctx, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrItemNotFound))

	require.True(t, store.Deactivate("b"))
	e.OnItemRemoved("b")
	_, err = e.FindMatches(ctx, "b")
	assert.True(t, errors.Is(err, apperrors.ErrItemNotFound))
}

func TestChangesAreBatchedIntoOneRefit(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)
	ctx := context.Background()
	assert.Equal(t, StateFresh, e.State())
	assert.Equal(t, uint64(1), e.Stats().Refits)

	store.Put(item("d", items.TypeFound, "black card holder"))
	e.OnItemChanged("d")
	store.Put(item("e", items.TypeFound, "leather gloves"))
	e.OnItemChanged("e")
	e.OnItemChanged("d")

	stats := e.Stats()
	assert.Equal(t, StateStale, stats.State)
	assert.Equal(t, 2, stats.PendingChanges)

	_, err := e.FindMatches(ctx, "a")
	require.NoError(t, err)
	_, err = e.FindMatches(ctx, "b")
	require.NoError(t, err)

	stats = e.Stats()
	assert.Equal(t, StateFresh, stats.State)
	assert.Equal(t, uint64(2), stats.Refits)
	assert.Zero(t, stats.PendingChanges)
	assert.Equal(t, 5, stats.ActiveItems)
	assert.Equal(t, 1, stats.LostItems)
	assert.Equal(t, 4, stats.FoundItems)
}

func TestFingerprintTracksCorpus(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)

	before, fresh := e.Fingerprint()
	assert.True(t, fresh)
	assert.NotEmpty(t, before)

	e.OnItemChanged("a")
	same, fresh := e.Fingerprint()
	assert.False(t, fresh)
	assert.Equal(t, before, same)

	require.NoError(t, e.Refit(context.Background()))
	unchanged, fresh := e.Fingerprint()
	assert.True(t, fresh)
	assert.Equal(t, before, unchanged)

	// Flipping a type changes candidate pools without touching the vocabulary.
	c := item("c", items.TypeLost, "Blue water bottle")
	store.Put(c)
	require.NoError(t, e.Refit(context.Background()))
	after, _ := e.Fingerprint()
	assert.NotEqual(t, before, after)
}

func TestResultsIndependentOfInsertionOrder(t *testing.T) {
	forward := newEngine(t, scenarioStore())
	reversed := newEngine(t, memstore.New(
		item("c", items.TypeFound, "Blue water bottle"),
		item("b", items.TypeFound, "Found a black wallet containing cards"),
		item("a", items.TypeLost, "Black leather wallet with ID cards"),
	))
	ctx := context.Background()

	r1, err := forward.FindMatchesWith(ctx, "a", everything)
	require.NoError(t, err)
	r2, err := reversed.FindMatchesWith(ctx, "a", everything)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestNameAndPlaceContribute(t *testing.T) {
	store := memstore.New(
		items.Item{ID: "a", Type: items.TypeLost, Name: "umbrella", Active: true},
		items.Item{ID: "b", Type: items.TypeFound, Description: "umbrella", Place: "library", Active: true},
		items.Item{ID: "c", Type: items.TypeFound, Description: "scarf", Active: true},
	)
	ctx := context.Background()

	withName := newEngine(t, store)
	res, err := withName.FindMatches(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Matches))

	cfg := config.DefaultMatcherConfig()
	cfg.IncludeName = false
	descOnly, err := New(ctx, store, cfg)
	require.NoError(t, err)
	res, err = descOnly.FindMatches(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

type flakySource struct {
	ItemSource
	mu   sync.Mutex
	fail bool
}

func (f *flakySource) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakySource) ActiveItems(ctx context.Context) ([]items.Item, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, apperrors.ErrStorageUnavailable
	}
	return f.ItemSource.ActiveItems(ctx)
}

func TestRefitFailureKeepsEngineStale(t *testing.T) {
	src := &flakySource{ItemSource: scenarioStore()}
	e := newEngine(t, src)
	ctx := context.Background()

	src.setFail(true)
	e.OnItemChanged("a")
	_, err := e.FindMatches(ctx, "a")
	assert.True(t, errors.Is(err, apperrors.ErrStorageUnavailable))
	assert.Equal(t, StateStale, e.State())

	src.setFail(false)
	res, err := e.FindMatches(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Matches))
	assert.Equal(t, StateFresh, e.State())
}

func TestInvalidStoredTextFailsRefitAndRecovers(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)
	ctx := context.Background()

	store.Put(item("d", items.TypeFound, "bad \xff bytes"))
	e.OnItemChanged("d")
	_, err := e.FindMatches(ctx, "a")
	assert.True(t, errors.Is(err, apperrors.ErrInternal))
	assert.False(t, errors.Is(err, apperrors.ErrInvalidInput), "the query itself was valid")
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusCode(err))
	assert.ErrorContains(t, err, "stored item d")
	assert.Equal(t, StateStale, e.State())

	store.Put(item("d", items.TypeFound, "good bytes"))
	_, err = e.FindMatches(ctx, "a")
	require.NoError(t, err)
}

func TestNewFailsWhenInitialFitFails(t *testing.T) {
	src := &flakySource{ItemSource: scenarioStore(), fail: true}
	_, err := New(context.Background(), src, config.DefaultMatcherConfig())
	assert.Error(t, err)

	cfg := config.DefaultMatcherConfig()
	cfg.Threshold = 2
	_, err = New(context.Background(), scenarioStore(), cfg)
	assert.Error(t, err)
}

func TestEngineRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	store := scenarioStore()
	e := newEngine(t, store, WithMetrics(m))
	ctx := context.Background()

	_, err := e.FindMatches(ctx, "a")
	require.NoError(t, err)
	_, err = e.FindMatches(ctx, "nope")
	require.Error(t, err)
	e.OnItemRemoved("c")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchQueriesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchQueriesTotal.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefitsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CorpusChangesTotal.WithLabelValues("removed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveItems.WithLabelValues("lost")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveItems.WithLabelValues("found")))
}

func TestConcurrentQueriesAndChanges(t *testing.T) {
	store := scenarioStore()
	e := newEngine(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.FindMatches(ctx, "a"); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			e.OnItemChanged("b")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	res, err := e.FindMatches(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(res.Matches))
	assert.Equal(t, StateFresh, e.State())
}
