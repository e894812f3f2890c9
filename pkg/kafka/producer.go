package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/config"
)

// Event is one outgoing message. Key picks the partition, so events for the
// same item stay ordered. Type is sent as the event-type header.
type Event struct {
	Key   string
	Type  string
	Value any
}

func (e Event) message() (kafka.Message, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s event %s: %w", e.Type, e.Key, err)
	}
	msg := kafka.Message{Key: []byte(e.Key), Value: value}
	msg.Headers = append(msg.Headers, kafka.Header{Key: "content-type", Value: []byte("application/json")})
	if e.Type != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "event-type", Value: []byte(e.Type)})
	}
	return msg, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes events synchronously and waits for all in-sync replicas.
type Producer struct {
	writer messageWriter
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}, topic)
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := event.message()
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s event %s: %w", event.Type, event.Key, err)
	}
	p.logger.Debug("event published", "key", event.Key, "type", event.Type, "bytes", len(msg.Value))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
