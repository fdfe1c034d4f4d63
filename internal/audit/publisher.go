package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"accord/internal/platform/kafka/producer"
	"accord/pkg/requestcontext"
)

// KafkaPublisher writes audit events to a Kafka topic, keyed by entity ID so
// one entity's trail stays ordered within a partition.
type KafkaPublisher struct {
	producer *producer.Producer
	topic    string
	logger   *slog.Logger
}

// NewKafkaPublisher creates a Kafka-backed audit publisher.
func NewKafkaPublisher(p *producer.Producer, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal audit event", "error", err, "action", event.Action)
		return
	}

	msg := &producer.Message{
		Topic: p.topic,
		Key:   []byte(event.EntityID),
		Value: value,
	}
	if err := p.producer.Produce(ctx, msg); err != nil {
		// Audit is best-effort: a broker outage must not fail partner or
		// exchange operations.
		p.logger.ErrorContext(ctx, "publish audit event", "error", err, "action", event.Action)
	}
}

// LogPublisher writes audit events to the structured log. Used when Kafka is
// not configured, and as the default in tests.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-backed audit publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	p.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"actor", event.Actor,
		"entity_id", event.EntityID,
		"detail", event.Detail,
	)
}

// Nop discards events. Useful for benchmarks.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
