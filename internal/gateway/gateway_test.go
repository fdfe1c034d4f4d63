package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/agent"
	chatmodels "accord/internal/chat/models"
	chatservice "accord/internal/chat/service"
	chatstore "accord/internal/chat/store"
	exchangemodels "accord/internal/exchange/models"
	exchangeservice "accord/internal/exchange/service"
	exchangestore "accord/internal/exchange/store"
	partnermodels "accord/internal/partner/models"
	partnerservice "accord/internal/partner/service"
	partnerstore "accord/internal/partner/store"
	trustservice "accord/internal/trust/service"
	truststore "accord/internal/trust/store"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
)

type recordingSinks struct {
	connections int
	exchanges   int
	messages    int

	exchangeErr error
}

func (r *recordingSinks) UpsertFromInboundEvent(context.Context, agent.InboundEvent) (*partnermodels.Partner, error) {
	r.connections++
	return nil, nil
}

func (r *recordingSinks) ApplyEvent(context.Context, agent.InboundEvent) (*exchangemodels.Exchange, error) {
	r.exchanges++
	return nil, r.exchangeErr
}

func (r *recordingSinks) RecordInbound(context.Context, id.DID, string) (*chatmodels.Message, error) {
	r.messages++
	return nil, nil
}

func newRecordingGateway(t *testing.T) (*Gateway, *recordingSinks) {
	t.Helper()
	sinks := &recordingSinks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := New(sinks, sinks, sinks, NewMemoryDedup(time.Hour), logger)
	return gw, sinks
}

func rawEvent(t *testing.T, event agent.InboundEvent) []byte {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

func TestOnProtocolEventRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("connection events go to partners", func(t *testing.T) {
		gw, sinks := newRecordingGateway(t)
		err := gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
			Kind: agent.EventKindConnection, PartnerDID: id.DID("did:sov:x"), NewState: "requested",
		}))
		require.NoError(t, err)
		assert.Equal(t, 1, sinks.connections)
	})

	t.Run("credential and proof events go to exchanges", func(t *testing.T) {
		gw, sinks := newRecordingGateway(t)
		require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
			Kind: agent.EventKindCredential, CorrelationID: "c-1", NewState: "offered",
		})))
		require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
			Kind: agent.EventKindProof, CorrelationID: "p-1", NewState: "requested",
		})))
		assert.Equal(t, 2, sinks.exchanges)
	})

	t.Run("message events go to chat", func(t *testing.T) {
		gw, sinks := newRecordingGateway(t)
		payload, _ := json.Marshal(agent.MessagePayload{Content: "hello"})
		err := gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
			Kind: agent.EventKindMessage, PartnerDID: id.DID("did:sov:x"), Payload: payload,
		}))
		require.NoError(t, err)
		assert.Equal(t, 1, sinks.messages)
	})

	t.Run("unknown kind acknowledged without dispatch", func(t *testing.T) {
		gw, sinks := newRecordingGateway(t)
		err := gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{Kind: "revocation"}))
		require.NoError(t, err)
		assert.Zero(t, sinks.connections+sinks.exchanges+sinks.messages)
	})
}

func TestOnProtocolEventMalformed(t *testing.T) {
	ctx := context.Background()
	gw, sinks := newRecordingGateway(t)

	require.NoError(t, gw.OnProtocolEvent(ctx, []byte("{not json")), "malformed deliveries acknowledge")
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{NewState: "active"})), "missing kind acknowledges")
	assert.Zero(t, sinks.connections+sinks.exchanges+sinks.messages)
}

func TestOnProtocolEventDuplicateSuppressed(t *testing.T) {
	ctx := context.Background()
	gw, sinks := newRecordingGateway(t)
	event := rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindConnection, PartnerDID: id.DID("did:sov:x"), NewState: "active",
	})

	require.NoError(t, gw.OnProtocolEvent(ctx, event))
	require.NoError(t, gw.OnProtocolEvent(ctx, event))
	assert.Equal(t, 1, sinks.connections, "redelivery dispatched once")
}

func TestOnProtocolEventDistinctMessagesNotCollapsed(t *testing.T) {
	ctx := context.Background()
	gw, sinks := newRecordingGateway(t)

	first, _ := json.Marshal(agent.MessagePayload{Content: "first"})
	second, _ := json.Marshal(agent.MessagePayload{Content: "second"})
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindMessage, PartnerDID: id.DID("did:sov:x"), Payload: first,
	})))
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindMessage, PartnerDID: id.DID("did:sov:x"), Payload: second,
	})))
	assert.Equal(t, 2, sinks.messages)
}

func TestOnProtocolEventUnknownExchangeAcknowledged(t *testing.T) {
	ctx := context.Background()
	gw, sinks := newRecordingGateway(t)
	sinks.exchangeErr = pkgerrors.New(pkgerrors.CodeUnknownExchange, "no such correlation")

	err := gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindCredential, CorrelationID: "stray", NewState: "offered",
	}))
	require.NoError(t, err, "an unroutable event must not trigger redelivery")
}

func TestOnProtocolEventInfrastructureFailureRetries(t *testing.T) {
	ctx := context.Background()
	gw, sinks := newRecordingGateway(t)
	sinks.exchangeErr = pkgerrors.New(pkgerrors.CodeInternal, "store down")

	event := rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindCredential, CorrelationID: "c-1", NewState: "offered",
	})
	require.Error(t, gw.OnProtocolEvent(ctx, event))

	// The failed delivery was not marked seen, so the retry dispatches again.
	sinks.exchangeErr = nil
	require.NoError(t, gw.OnProtocolEvent(ctx, event))
	assert.Equal(t, 2, sinks.exchanges)
}

// End-to-end through the real services: a handshake webhook for an unknown
// DID materializes a shadow partner, and the follow-up credential events walk
// the exchange to completion.
func TestGatewayWithRealServices(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := agent.NewStub()

	partners := partnerservice.NewService(partnerstore.NewInMemory(), stub, nil, logger)
	trust := trustservice.NewService(truststore.NewInMemory(), nil, logger)
	exchanges := exchangeservice.NewService(exchangestore.NewInMemory(), partners, trust, stub, nil, logger)
	partners.BindExchanges(exchanges)
	chat := chatservice.NewService(chatstore.NewInMemory(), partners, stub, nil, logger)

	gw := New(partners, exchanges, chat, NewMemoryDedup(time.Hour), logger)

	partnerDID := id.DID("did:sov:new-partner")
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindConnection, PartnerDID: partnerDID, NewState: "requested",
	})))

	shadow, err := partners.GetByDID(ctx, partnerDID)
	require.NoError(t, err)
	assert.True(t, shadow.Incoming)
	assert.Equal(t, partnermodels.StateRequested, shadow.State)

	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindConnection, PartnerDID: partnerDID, NewState: "active",
	})))

	exchange, err := exchanges.RequestCredential(ctx, shadow.ID, "doc-1", id.SchemaID("schema-1"))
	require.NoError(t, err)

	payload, _ := json.Marshal(agent.CredentialPayload{
		SchemaID:  id.SchemaID("schema-1"),
		IssuerDID: id.DID("did:sov:issuer"),
		Claims:    map[string]string{"name": "Acme"},
	})
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindCredential, CorrelationID: exchange.CorrelationID,
		NewState: "complete", Payload: payload,
	})))

	final, err := exchanges.Get(ctx, exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, exchangemodels.StateComplete, final.State)

	messagePayload, _ := json.Marshal(agent.MessagePayload{Content: "thanks"})
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindMessage, PartnerDID: partnerDID, Payload: messagePayload,
	})))
	messages, err := chat.ListByPartner(ctx, shadow.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, chatmodels.DirectionIncoming, messages[0].Direction)
}

func TestOnProtocolEventForeignStateNameAcknowledged(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := agent.NewStub()

	partners := partnerservice.NewService(partnerstore.NewInMemory(), stub, nil, logger)
	trust := trustservice.NewService(truststore.NewInMemory(), nil, logger)
	exchanges := exchangeservice.NewService(exchangestore.NewInMemory(), partners, trust, stub, nil, logger)
	partners.BindExchanges(exchanges)
	chat := chatservice.NewService(chatstore.NewInMemory(), partners, stub, nil, logger)

	gw := New(partners, exchanges, chat, NewMemoryDedup(time.Hour), logger)

	partner, err := partners.AddViaDID(ctx, id.DID("did:sov:issuer-bank"), "Bank")
	require.NoError(t, err)
	exchange, err := exchanges.RequestCredential(ctx, partner.ID, "doc-1", id.SchemaID("schema-1"))
	require.NoError(t, err)

	// A state name from another agent's vocabulary must be acknowledged, or
	// an at-least-once webhook redelivers it forever.
	require.NoError(t, gw.OnProtocolEvent(ctx, rawEvent(t, agent.InboundEvent{
		Kind: agent.EventKindCredential, CorrelationID: exchange.CorrelationID,
		NewState: "request_sent",
	})))

	after, err := exchanges.Get(ctx, exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, exchangemodels.StateProposed, after.State, "exchange unchanged")
}

func TestMemoryDedupTTL(t *testing.T) {
	ctx := context.Background()
	current := time.Unix(1_700_000_000, 0)
	dedup := NewMemoryDedup(time.Minute)
	dedup.now = func() time.Time { return current }

	require.NoError(t, dedup.MarkSeen(ctx, "k"))
	seen, err := dedup.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)

	current = current.Add(2 * time.Minute)
	seen, err = dedup.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen, "expired entries are forgotten")
}
