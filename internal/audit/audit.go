// Package audit captures an append-only trail of state transitions and
// policy decisions. Events flow to Kafka when brokers are configured, and to
// the structured log otherwise; either way emission is best-effort and never
// fails the operation that produced the event.
package audit

import (
	"context"
	"time"
)

// Action labels what happened.
type Action string

const (
	ActionPartnerCreated     Action = "partner.created"
	ActionPartnerTransition  Action = "partner.transition"
	ActionPartnerRemoved     Action = "partner.removed"
	ActionExchangeCreated    Action = "exchange.created"
	ActionExchangeTransition Action = "exchange.transition"
	ActionExchangeDeclined   Action = "exchange.declined"
	ActionRestrictionAdded   Action = "trust.restriction_added"
	ActionRestrictionRemoved Action = "trust.restriction_removed"
	ActionSchemaAdded        Action = "trust.schema_added"
	ActionSchemaDeleted      Action = "trust.schema_deleted"
	ActionTrustDenied        Action = "trust.issuer_denied"
	ActionMessageSent        Action = "chat.message_sent"
)

// Event is one audit record. Detail carries action-specific fields; keep it
// small and free of credential claims.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    Action            `json:"action"`
	Actor     string            `json:"actor,omitempty"`
	EntityID  string            `json:"entity_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Publisher emits audit events.
type Publisher interface {
	Emit(ctx context.Context, event Event)
}
