// Package kafka carries item-change events in and match alerts out over
// segmentio/kafka-go. Payloads are JSON on both sides.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/resilience"
)

// ErrPoison marks a message that can never be processed. The consumer
// commits past it instead of retrying.
var ErrPoison = errors.New("unprocessable message")

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds one topic to a MessageHandler in partition order. A
// transiently failing message is retried with backoff and never skipped:
// committing a later offset would silently acknowledge it.
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	backoff resilience.Backoff
	logger  *slog.Logger
}

// NewConsumer joins cfg.ConsumerGroup on topic. A new group starts at the
// latest offset; earlier changes are covered by the engine's initial fit.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		backoff: resilience.Backoff{Initial: 200 * time.Millisecond, Max: 30 * time.Second},
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is done. It returns nil on cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	fetchFailures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped", "reason", ctx.Err())
				return nil
			}
			fetchFailures++
			c.logger.Error("fetch failed", "failures", fetchFailures, "error", err)
			if !sleep(ctx, c.backoff.Delay(fetchFailures)) {
				return nil
			}
			continue
		}
		fetchFailures = 0

		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process runs the handler until it succeeds or reports a poison message.
// It returns false only when ctx ends first.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg.Key, msg.Value)
		switch {
		case err == nil:
			log.Debug("message handled", "attempt", attempt)
			return true
		case errors.Is(err, ErrPoison):
			log.Warn("skipping unprocessable message", "error", err)
			return true
		}
		delay := c.backoff.Delay(attempt)
		log.Error("handler failed, retrying", "attempt", attempt, "retry_in", delay, "error", err)
		if !sleep(ctx, delay) {
			return false
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// DecodeJSON unmarshals a message value into T. Malformed JSON is poison.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrPoison, err)
	}
	return v, nil
}
