// Package notify raises match alerts for the email/SMS collaborator. Changed
// items are queued, matched in the background at the notification threshold
// and published to Kafka when anything clears it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/metrics"
)

type Matcher interface {
	FindMatchesWith(ctx context.Context, itemID string, opts ranker.Options) (*matcher.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Notifier struct {
	matcher   Matcher
	publisher Publisher
	threshold float64
	limit     int
	queue     chan string
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Notifier)

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

func New(m Matcher, p Publisher, cfg config.MatcherConfig, opts ...Option) *Notifier {
	buffer := cfg.AlertBuffer
	if buffer <= 0 {
		buffer = 1000
	}
	n := &Notifier{
		matcher:   m,
		publisher: p,
		threshold: cfg.NotifyThreshold,
		limit:     cfg.MaxLimit,
		queue:     make(chan string, buffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "notifier"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start launches the dispatch loop. Close must only be called after Start.
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		defer close(n.done)
		for {
			select {
			case itemID, ok := <-n.queue:
				if !ok {
					return
				}
				n.dispatch(ctx, itemID)
			case <-ctx.Done():
				n.drain()
				return
			}
		}
	}()
	n.logger.Info("notifier started",
		"buffer_size", cap(n.queue),
		"threshold", n.threshold,
	)
}

// ItemChanged queues itemID for evaluation without blocking. When the queue
// is full the item is dropped and counted.
func (n *Notifier) ItemChanged(itemID string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- itemID:
	default:
		n.count("dropped")
		n.logger.Warn("match alert dropped (queue full)", "item_id", itemID)
	}
}

// Close stops accepting items, publishes what is queued and waits for the
// dispatch loop to exit.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

// Evaluate ranks itemID at the notification threshold. It returns nil when
// nothing clears the threshold or the item is no longer active.
func (n *Notifier) Evaluate(ctx context.Context, itemID string) (*items.MatchAlert, error) {
	res, err := n.matcher.FindMatchesWith(ctx, itemID, ranker.Options{
		Threshold: n.threshold,
		Limit:     n.limit,
	})
	if errors.Is(err, apperrors.ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evaluating alerts for %s: %w", itemID, err)
	}
	if len(res.Matches) == 0 {
		return nil, nil
	}
	alert := &items.MatchAlert{
		ItemID:    res.ItemID,
		ItemType:  res.ItemType,
		Matches:   make([]items.AlertMatch, len(res.Matches)),
		TopScore:  res.Matches[0].Score,
		Threshold: n.threshold,
		RaisedAt:  n.now().UTC(),
	}
	for i, m := range res.Matches {
		alert.Matches[i] = items.AlertMatch{ItemID: m.ItemID, Score: m.Score}
	}
	return alert, nil
}

func (n *Notifier) dispatch(ctx context.Context, itemID string) {
	alert, err := n.Evaluate(ctx, itemID)
	if err != nil {
		n.count("failed")
		n.logger.Error("match alert evaluation failed", "item_id", itemID, "error", err)
		return
	}
	if alert == nil {
		return
	}
	if err := n.publisher.Publish(ctx, kafka.Event{Key: itemID, Type: "match_alert", Value: alert}); err != nil {
		n.count("failed")
		n.logger.Error("failed to publish match alert", "item_id", itemID, "error", err)
		return
	}
	n.count("published")
	n.logger.Info("match alert published",
		"item_id", itemID,
		"matches", len(alert.Matches),
		"top_score", alert.TopScore,
	)
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case itemID, ok := <-n.queue:
			if !ok {
				return
			}
			n.dispatch(ctx, itemID)
		default:
			return
		}
	}
}

func (n *Notifier) count(status string) {
	if n.metrics != nil {
		n.metrics.AlertsPublishedTotal.WithLabelValues(status).Inc()
	}
}
