// Package consumer applies item change events to the matching engine. The
// same path serves the Kafka item-events topic and the HTTP change endpoints.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/kafka"
)

type Engine interface {
	OnItemChanged(itemID string)
	OnItemRemoved(itemID string)
}

// Invalidator drops cached rankings.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Alerter is told about items whose matches may now warrant an alert.
type Alerter interface {
	ItemChanged(itemID string)
}

type Handler struct {
	engine Engine
	cache  Invalidator
	alerts Alerter
	logger *slog.Logger
}

type Option func(*Handler)

func WithCache(c Invalidator) Option {
	return func(h *Handler) { h.cache = c }
}

func WithAlerts(a Alerter) Option {
	return func(h *Handler) { h.alerts = a }
}

func New(engine Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		logger: slog.Default().With("component", "change-consumer"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Apply marks the engine stale for ev. A removal also flushes cached
// rankings so the removed item stops being served from Redis before the
// entries expire.
func (h *Handler) Apply(ctx context.Context, ev items.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Kind {
	case items.ChangeKindChanged:
		h.engine.OnItemChanged(ev.ItemID)
		if h.alerts != nil {
			h.alerts.ItemChanged(ev.ItemID)
		}
	case items.ChangeKindRemoved:
		h.engine.OnItemRemoved(ev.ItemID)
		if h.cache != nil {
			if err := h.cache.Invalidate(ctx); err != nil {
				h.logger.Warn("cache invalidation failed", "item_id", ev.ItemID, "error", err)
			}
		}
	}
	h.logger.Debug("item change applied", "item_id", ev.ItemID, "kind", ev.Kind)
	return nil
}

// HandleMessage is a kafka.MessageHandler for the item-events topic.
func (h *Handler) HandleMessage(ctx context.Context, _ []byte, value []byte) error {
	ev, err := kafka.DecodeJSON[items.ChangeEvent](value)
	if err != nil {
		return err
	}
	if err := h.Apply(ctx, ev); err != nil {
		return fmt.Errorf("%w: %v", kafka.ErrPoison, err)
	}
	return nil
}
