// Package gateway ingests the protocol agent's webhook stream and routes each
// event to the module that owns its kind. Delivery is at-least-once: the
// gateway acknowledges everything it can parse, suppresses duplicates through
// a TTL-bounded dedup store, and leaves ordering conflicts to the state
// machines downstream.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"accord/internal/agent"
	chatmodels "accord/internal/chat/models"
	exchangemodels "accord/internal/exchange/models"
	"accord/internal/gateway/metrics"
	partnermodels "accord/internal/partner/models"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
)

// PartnerSink applies connection events.
type PartnerSink interface {
	UpsertFromInboundEvent(ctx context.Context, event agent.InboundEvent) (*partnermodels.Partner, error)
}

// ExchangeSink applies credential and proof events.
type ExchangeSink interface {
	ApplyEvent(ctx context.Context, event agent.InboundEvent) (*exchangemodels.Exchange, error)
}

// MessageSink records inbound basic messages.
type MessageSink interface {
	RecordInbound(ctx context.Context, senderDID id.DID, content string) (*chatmodels.Message, error)
}

type Option func(*Gateway)

// Gateway is the single entry point for inbound protocol events.
type Gateway struct {
	partners  PartnerSink
	exchanges ExchangeSink
	chat      MessageSink
	dedup     DedupStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func New(partners PartnerSink, exchanges ExchangeSink, chat MessageSink, dedup DedupStore, logger *slog.Logger, opts ...Option) *Gateway {
	gw := &Gateway{
		partners:  partners,
		exchanges: exchanges,
		chat:      chat,
		dedup:     dedup,
		logger:    logger,
		tracer:    otel.Tracer("accord/gateway"),
	}
	for _, opt := range opts {
		opt(gw)
	}
	return gw
}

// WithMetrics sets the metrics instance for the gateway.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// OnProtocolEvent processes one raw webhook delivery. A nil return means the
// delivery is acknowledged and must not be retried; malformed payloads,
// duplicates, and events that resolve nowhere all acknowledge. Only
// infrastructure failures return an error, so the agent redelivers and the
// dedup mark (written after success) does not swallow the retry.
func (g *Gateway) OnProtocolEvent(ctx context.Context, raw []byte) error {
	var event agent.InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		if g.metrics != nil {
			g.metrics.EventsMalformed.Inc()
		}
		g.logger.WarnContext(ctx, "dropping malformed protocol event", "error", err)
		return nil
	}
	if event.Kind == "" {
		if g.metrics != nil {
			g.metrics.EventsMalformed.Inc()
		}
		g.logger.WarnContext(ctx, "dropping protocol event without kind")
		return nil
	}

	ctx, span := g.tracer.Start(ctx, "gateway.OnProtocolEvent", trace.WithAttributes(
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("event.correlation_id", event.CorrelationID),
		attribute.String("event.new_state", event.NewState),
	))
	defer span.End()

	if g.metrics != nil {
		g.metrics.EventsReceived.WithLabelValues(string(event.Kind)).Inc()
	}

	key := dedupKey(event)
	seen, err := g.dedup.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		if g.metrics != nil {
			g.metrics.EventsDuplicate.Inc()
		}
		g.logger.DebugContext(ctx, "suppressing duplicate protocol event",
			"kind", event.Kind, "correlation_id", event.CorrelationID, "new_state", event.NewState)
		return nil
	}

	start := time.Now()
	if err := g.dispatch(ctx, event); err != nil {
		return err
	}
	if g.metrics != nil {
		g.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}

	// Marked only after the event was applied; a crash in between means a
	// redelivery, which the state machines absorb as a duplicate.
	if err := g.dedup.MarkSeen(ctx, key); err != nil {
		g.logger.WarnContext(ctx, "failed to mark event as processed", "error", err)
	}
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, event agent.InboundEvent) error {
	switch event.Kind {
	case agent.EventKindConnection:
		_, err := g.partners.UpsertFromInboundEvent(ctx, event)
		return err

	case agent.EventKindCredential, agent.EventKindProof:
		_, err := g.exchanges.ApplyEvent(ctx, event)
		if pkgerrors.HasCode(err, pkgerrors.CodeUnknownExchange) {
			// Not ours, or the exchange is already gone; retrying cannot help.
			if g.metrics != nil {
				g.metrics.EventsDropped.Inc()
			}
			g.logger.WarnContext(ctx, "acknowledging event for unknown exchange",
				"kind", event.Kind, "correlation_id", event.CorrelationID)
			return nil
		}
		return err

	case agent.EventKindMessage:
		var payload agent.MessagePayload
		if len(event.Payload) > 0 {
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				if g.metrics != nil {
					g.metrics.EventsMalformed.Inc()
				}
				g.logger.WarnContext(ctx, "dropping message event with malformed payload", "error", err)
				return nil
			}
		}
		_, err := g.chat.RecordInbound(ctx, event.PartnerDID, payload.Content)
		return err

	default:
		if g.metrics != nil {
			g.metrics.EventsDropped.Inc()
		}
		g.logger.WarnContext(ctx, "acknowledging event of unknown kind", "kind", event.Kind)
		return nil
	}
}

// dedupKey identifies one delivery by what it changes, not by delivery
// metadata, so redeliveries of the same transition collapse. Message events
// carry no state, so their payload digest keeps two real messages with the
// same sender apart.
func dedupKey(event agent.InboundEvent) string {
	parts := []string{
		string(event.Kind),
		event.CorrelationID,
		event.PartnerDID.String(),
		event.NewState,
	}
	if event.Kind == agent.EventKindMessage {
		sum := sha256.Sum256(event.Payload)
		parts = append(parts, hex.EncodeToString(sum[:8]))
	}
	return strings.Join(parts, "|")
}
