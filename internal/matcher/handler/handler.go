package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/cache"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/logger"
)

type Engine interface {
	FindMatchesWith(ctx context.Context, itemID string, opts ranker.Options) (*matcher.Result, error)
	Fingerprint() (string, bool)
	Refit(ctx context.Context) error
	Stats() matcher.Stats
}

type ItemReader interface {
	GetItem(ctx context.Context, id string) (items.Item, error)
}

type ChangeApplier interface {
	Apply(ctx context.Context, ev items.ChangeEvent) error
}

type Handler struct {
	engine  Engine
	items   ItemReader
	changes ChangeApplier
	cache   *cache.MatchCache
	cfg     config.MatcherConfig
	logger  *slog.Logger
}

// New builds the HTTP handler. matchCache may be nil.
func New(engine Engine, reader ItemReader, changes ChangeApplier, matchCache *cache.MatchCache, cfg config.MatcherConfig) *Handler {
	return &Handler{
		engine:  engine,
		items:   reader,
		changes: changes,
		cache:   matchCache,
		cfg:     cfg,
		logger:  slog.Default().With("component", "match-handler"),
	}
}

// Register mounts the matcher API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/items/{id}/matches", h.Matches)
	mux.HandleFunc("GET /api/v1/items/{id}/report", h.Report)
	mux.HandleFunc("POST /api/v1/items/{id}/changed", h.ItemChanged)
	mux.HandleFunc("POST /api/v1/items/{id}/removed", h.ItemRemoved)
	mux.HandleFunc("GET /api/v1/engine/stats", h.EngineStats)
	mux.HandleFunc("POST /api/v1/engine/refit", h.EngineRefit)
}

// ReportMatch is one ranked candidate with the details the report renders.
type ReportMatch struct {
	Item  items.Item `json:"item"`
	Score float64    `json:"score"`
}

// ReportResponse carries an item and its ranked matches for the PDF report
// collaborator.
type ReportResponse struct {
	Item        items.Item    `json:"item"`
	Matches     []ReportMatch `json:"matches"`
	Threshold   float64       `json:"threshold"`
	Fingerprint string        `json:"fingerprint"`
	GeneratedAt time.Time     `json:"generated_at"`
}

func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	itemID := r.PathValue("id")
	ctx := logger.With(r.Context(), "item_id", itemID)
	log := logger.FromContext(ctx)

	opts, err := h.parseOptions(r)
	if err != nil {
		h.writeAppError(ctx, w, err)
		return
	}

	result, cacheHit, err := h.findMatches(ctx, itemID, opts)
	if err != nil {
		h.writeAppError(ctx, w, err)
		return
	}

	log.Info("matches served",
		"returned", len(result.Matches),
		"threshold", opts.Threshold,
		"limit", opts.Limit,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := r.PathValue("id")

	item, err := h.items.GetItem(ctx, itemID)
	if err != nil {
		h.writeAppError(ctx, w, err)
		return
	}
	if !item.Active {
		h.writeAppError(ctx, w, apperrors.NotFound(itemID))
		return
	}

	opts := h.defaultOptions()
	result, _, err := h.findMatches(ctx, itemID, opts)
	if err != nil {
		h.writeAppError(ctx, w, err)
		return
	}

	resp := ReportResponse{
		Item:        item,
		Matches:     make([]ReportMatch, 0, len(result.Matches)),
		Threshold:   opts.Threshold,
		Fingerprint: result.Fingerprint,
		GeneratedAt: time.Now().UTC(),
	}
	for _, m := range result.Matches {
		candidate, err := h.items.GetItem(ctx, m.ItemID)
		if errors.Is(err, apperrors.ErrItemNotFound) {
			continue
		}
		if err != nil {
			h.writeAppError(ctx, w, err)
			return
		}
		resp.Matches = append(resp.Matches, ReportMatch{Item: candidate, Score: m.Score})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ItemChanged(w http.ResponseWriter, r *http.Request) {
	h.applyChange(w, r, items.ChangeKindChanged)
}

func (h *Handler) ItemRemoved(w http.ResponseWriter, r *http.Request) {
	h.applyChange(w, r, items.ChangeKindRemoved)
}

func (h *Handler) applyChange(w http.ResponseWriter, r *http.Request, kind items.ChangeKind) {
	ctx := r.Context()
	ev := items.ChangeEvent{
		ItemID:     r.PathValue("id"),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
	if err := h.changes.Apply(ctx, ev); err != nil {
		h.writeAppError(ctx, w, apperrors.Invalid("%v", err))
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"item_id": ev.ItemID,
		"kind":    string(kind),
	})
}

func (h *Handler) EngineStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"engine": h.engine.Stats()}
	if h.cache == nil {
		resp["cache"] = map[string]string{"status": "disabled"}
	} else {
		hits, misses := h.cache.Stats()
		total := hits + misses
		var hitRate float64
		if total > 0 {
			hitRate = float64(hits) / float64(total) * 100
		}
		resp["cache"] = map[string]any{
			"hits":     hits,
			"misses":   misses,
			"total":    total,
			"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) EngineRefit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.engine.Refit(ctx); err != nil {
		h.writeAppError(ctx, w, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			logger.FromContext(ctx).Warn("cache invalidation after refit failed", "error", err)
		}
	}
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

// findMatches serves from the cache only while the engine is fresh, so a
// pending change always forces a recompute.
func (h *Handler) findMatches(ctx context.Context, itemID string, opts ranker.Options) (*matcher.Result, bool, error) {
	if h.cache == nil {
		res, err := h.engine.FindMatchesWith(ctx, itemID, opts)
		return res, false, err
	}
	fingerprint, fresh := h.engine.Fingerprint()
	if !fresh {
		res, err := h.engine.FindMatchesWith(ctx, itemID, opts)
		return res, false, err
	}
	key := cache.Key{
		ItemID:      itemID,
		Threshold:   opts.Threshold,
		Limit:       opts.Limit,
		Fingerprint: fingerprint,
	}
	return h.cache.GetOrCompute(ctx, key, func() (*matcher.Result, error) {
		return h.engine.FindMatchesWith(ctx, itemID, opts)
	})
}

func (h *Handler) defaultOptions() ranker.Options {
	return ranker.Options{Threshold: h.cfg.Threshold, Limit: h.cfg.DefaultLimit}
}

func (h *Handler) parseOptions(r *http.Request) (ranker.Options, error) {
	opts := h.defaultOptions()
	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return opts, apperrors.Invalid("limit must be a positive integer")
		}
		if parsed > h.cfg.MaxLimit {
			parsed = h.cfg.MaxLimit
		}
		opts.Limit = parsed
	}
	if scoreStr := q.Get("min_score"); scoreStr != "" {
		parsed, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil || !(parsed >= 0 && parsed <= 1) {
			return opts, apperrors.Invalid("min_score must be a number between 0 and 1")
		}
		opts.Threshold = parsed
	}
	return opts, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeAppError maps err onto a status code and a client-safe body.
// Server-side failures are logged with their full chain.
func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, errorResponse{
		Error: apperrors.PublicMessage(err),
		Code:  apperrors.Code(err),
	})
}
