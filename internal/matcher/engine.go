// Package matcher owns the lost/found matching engine: it keeps a TF-IDF
// model fitted over the active corpus, refits it lazily after corpus changes
// and ranks items of the opposite type against a query item.
package matcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/normalizer"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/tfidf"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/metrics"
)

// ItemSource supplies the current active corpus.
type ItemSource interface {
	ActiveItems(ctx context.Context) ([]items.Item, error)
}

// State tells whether the fitted model reflects the latest corpus.
type State int

const (
	StateStale State = iota
	StateFresh
)

func (s State) String() string {
	if s == StateFresh {
		return "fresh"
	}
	return "stale"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "fresh":
		*s = StateFresh
	case "stale":
		*s = StateStale
	default:
		return fmt.Errorf("unknown engine state %q", text)
	}
	return nil
}

// Result is the ranked answer for one query item.
type Result struct {
	ItemID      string              `json:"item_id"`
	ItemType    items.Type          `json:"item_type"`
	Matches     []ranker.ScoredItem `json:"matches"`
	Fingerprint string              `json:"fingerprint"`
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	State           State     `json:"state"`
	ActiveItems     int       `json:"active_items"`
	LostItems       int       `json:"lost_items"`
	FoundItems      int       `json:"found_items"`
	VocabularyTerms int       `json:"vocabulary_terms"`
	PendingChanges  int       `json:"pending_changes"`
	Refits          uint64    `json:"refits"`
	LastRefit       time.Time `json:"last_refit"`
	Fingerprint     string    `json:"fingerprint"`
}

type document struct {
	item   items.Item
	text   string
	tokens []string
	vector tfidf.Vector
}

// Engine serialises refits and queries behind a single mutex so a query
// never observes a half-rebuilt model.
type Engine struct {
	mu          sync.Mutex
	source      ItemSource
	cfg         config.MatcherConfig
	fields      items.TextFields
	state       State
	model       *tfidf.Model
	docs        map[string]*document
	fingerprint string
	pending     map[string]items.ChangeKind
	refits      uint64
	lastRefit   time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New validates cfg and performs the initial fit from source.
func New(ctx context.Context, source ItemSource, cfg config.MatcherConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher config: %w", err)
	}
	e := &Engine{
		source:  source,
		cfg:     cfg,
		fields:  items.TextFields{Name: cfg.IncludeName, Place: cfg.IncludePlace},
		state:   StateStale,
		docs:    make(map[string]*document),
		pending: make(map[string]items.ChangeKind),
		logger:  slog.Default().With("component", "matcher"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Refit(ctx); err != nil {
		return nil, fmt.Errorf("initial fit: %w", err)
	}
	return e, nil
}

// DefaultOptions returns the configured threshold and result limit.
func (e *Engine) DefaultOptions() ranker.Options {
	return ranker.Options{Threshold: e.cfg.Threshold, Limit: e.cfg.DefaultLimit}
}

// FindMatches ranks itemID against the active items of the opposite type
// using the configured defaults.
func (e *Engine) FindMatches(ctx context.Context, itemID string) (*Result, error) {
	return e.FindMatchesWith(ctx, itemID, e.DefaultOptions())
}

// FindMatchesWith is FindMatches with explicit ranking options. A stale
// model is refitted first. Unknown and inactive items yield
// apperrors.ErrItemNotFound.
func (e *Engine) FindMatchesWith(ctx context.Context, itemID string, opts ranker.Options) (*Result, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStale {
		if err := e.refitLocked(ctx); err != nil {
			e.observeQuery("error", start, 0)
			return nil, fmt.Errorf("refitting before match: %w", err)
		}
	}

	query, ok := e.docs[itemID]
	if !ok {
		e.observeQuery("not_found", start, 0)
		return nil, apperrors.NotFound(itemID)
	}

	want := query.item.Type.Opposite()
	candidates := make(map[string]tfidf.Vector)
	for id, doc := range e.docs {
		if doc.item.Type == want {
			candidates[id] = doc.vector
		}
	}

	if err := e.model.Check(query.vector); err != nil {
		e.observeQuery("error", start, 0)
		return nil, apperrors.Newf(apperrors.ErrInternal, "item %s: %v", itemID, err)
	}
	matches, err := ranker.Rank(query.vector, candidates, opts)
	if err != nil {
		e.observeQuery("error", start, 0)
		return nil, fmt.Errorf("ranking item %s: %w", itemID, err)
	}
	e.observeQuery("ok", start, len(matches))
	e.logger.Debug("matches ranked",
		"item_id", itemID,
		"item_type", query.item.Type,
		"candidates", len(candidates),
		"matches", len(matches),
		"threshold", opts.Threshold,
	)
	return &Result{
		ItemID:      itemID,
		ItemType:    query.item.Type,
		Matches:     matches,
		Fingerprint: e.fingerprint,
	}, nil
}

// OnItemChanged records that an item was created or edited. The model is
// refitted on the next query.
func (e *Engine) OnItemChanged(itemID string) {
	e.markStale(itemID, items.ChangeKindChanged)
}

// OnItemRemoved records that an item was deleted or deactivated.
func (e *Engine) OnItemRemoved(itemID string) {
	e.markStale(itemID, items.ChangeKindRemoved)
}

func (e *Engine) markStale(itemID string, kind items.ChangeKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateStale
	e.pending[itemID] = kind
	if e.metrics != nil {
		e.metrics.CorpusChangesTotal.WithLabelValues(string(kind)).Inc()
	}
	e.logger.Debug("corpus changed",
		"item_id", itemID,
		"kind", kind,
		"pending", len(e.pending),
	)
}

// Refit rebuilds the model from the source immediately. On failure the
// previous model is kept and the engine stays stale.
func (e *Engine) Refit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refitLocked(ctx)
}

func (e *Engine) refitLocked(ctx context.Context) error {
	start := e.now()
	active, err := e.source.ActiveItems(ctx)
	if err != nil {
		e.observeRefit("error", start)
		return fmt.Errorf("loading active items: %w", err)
	}

	docs := make(map[string]*document, len(active))
	corpus := make(map[string][]string, len(active))
	reused := 0
	for _, it := range active {
		if !it.Active {
			continue
		}
		if !it.Type.Valid() {
			e.logger.Warn("skipping item with unknown type",
				"item_id", it.ID,
				"type", it.Type,
			)
			continue
		}
		text := it.MatchText(e.fields)
		var tokens []string
		if prev, ok := e.docs[it.ID]; ok && prev.text == text {
			tokens = prev.tokens
			reused++
		} else {
			tokens, err = normalizer.Normalize(text)
			if err != nil {
				e.observeRefit("error", start)
				return apperrors.Newf(apperrors.ErrInternal, "stored item %s: %v", it.ID, err)
			}
		}
		docs[it.ID] = &document{item: it, text: text, tokens: tokens}
		corpus[it.ID] = tokens
	}

	model := tfidf.Fit(corpus)
	for _, doc := range docs {
		doc.vector = model.Transform(doc.tokens)
	}

	e.model = model
	e.docs = docs
	e.fingerprint = corpusFingerprint(model.Fingerprint(), docs)
	e.state = StateFresh
	e.refits++
	e.lastRefit = e.now()
	pending := len(e.pending)
	e.pending = make(map[string]items.ChangeKind)

	lost, found := countTypes(docs)
	if e.metrics != nil {
		e.metrics.VocabularyTerms.Set(float64(model.Dim()))
		e.metrics.ActiveItems.WithLabelValues(string(items.TypeLost)).Set(float64(lost))
		e.metrics.ActiveItems.WithLabelValues(string(items.TypeFound)).Set(float64(found))
	}
	e.observeRefit("ok", start)
	e.logger.Info("vocabulary refitted",
		"items", len(docs),
		"lost", lost,
		"found", found,
		"terms", model.Dim(),
		"pending_changes", pending,
		"reused_tokens", reused,
		"fingerprint", e.fingerprint,
		"duration", time.Since(start),
	)
	return nil
}

// State reports whether the model reflects every recorded change.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Fingerprint returns the fingerprint of the fitted corpus and whether the
// engine is fresh. Results computed under a fingerprint stay valid for as
// long as it is reported fresh.
func (e *Engine) Fingerprint() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fingerprint, e.state == StateFresh
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	lost, found := countTypes(e.docs)
	terms := 0
	if e.model != nil {
		terms = e.model.Dim()
	}
	return Stats{
		State:           e.state,
		ActiveItems:     len(e.docs),
		LostItems:       lost,
		FoundItems:      found,
		VocabularyTerms: terms,
		PendingChanges:  len(e.pending),
		Refits:          e.refits,
		LastRefit:       e.lastRefit,
		Fingerprint:     e.fingerprint,
	}
}

func (e *Engine) observeQuery(result string, start time.Time, n int) {
	if e.metrics == nil {
		return
	}
	e.metrics.MatchQueriesTotal.WithLabelValues(result).Inc()
	e.metrics.MatchLatency.Observe(time.Since(start).Seconds())
	if result == "ok" {
		e.metrics.MatchResultsCount.Observe(float64(n))
	}
}

func (e *Engine) observeRefit(status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RefitsTotal.WithLabelValues(status).Inc()
	e.metrics.RefitDuration.Observe(time.Since(start).Seconds())
}

func countTypes(docs map[string]*document) (lost, found int) {
	for _, doc := range docs {
		switch doc.item.Type {
		case items.TypeLost:
			lost++
		case items.TypeFound:
			found++
		}
	}
	return lost, found
}

// corpusFingerprint extends the model fingerprint with item types, which the
// vocabulary alone does not capture.
func corpusFingerprint(modelFingerprint string, docs map[string]*document) string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(modelFingerprint))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
		h.Write([]byte{'='})
		h.Write([]byte(docs[id].item.Type))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
