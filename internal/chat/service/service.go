// Package service implements basic messaging with partners: outgoing messages
// dispatched through the protocol agent, incoming messages recorded from
// gateway events. Both directions land in the same append-only log.
package service

import (
	"context"
	"log/slog"
	"strings"

	"accord/internal/agent"
	"accord/internal/audit"
	"accord/internal/chat/models"
	"accord/internal/chat/store"
	partnermodels "accord/internal/partner/models"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
	"accord/pkg/requestcontext"
)

// PartnerDirectory resolves partners for message routing.
type PartnerDirectory interface {
	Get(ctx context.Context, partnerID id.PartnerID) (*partnermodels.Partner, error)
	GetByDID(ctx context.Context, did id.DID) (*partnermodels.Partner, error)
}

type Option func(*Service)

type Service struct {
	store    store.Store
	partners PartnerDirectory
	agent    agent.ProtocolAgent
	auditor  audit.Publisher
	logger   *slog.Logger
}

func NewService(st store.Store, partners PartnerDirectory, protocolAgent agent.ProtocolAgent, auditor audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:    st,
		partners: partners,
		agent:    protocolAgent,
		auditor:  auditor,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.auditor == nil {
		svc.auditor = audit.Nop{}
	}
	return svc
}

// Send dispatches a message to a partner through the protocol agent and
// appends it to the log. The partner must have a DID; a partner still waiting
// for its handshake cannot be messaged.
func (s *Service) Send(ctx context.Context, partnerID id.PartnerID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "message content is required")
	}

	partner, err := s.partners.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner.DID.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "partner has no DID yet; wait for the connection handshake")
	}

	if err := s.agent.SendMessage(ctx, partner.DID, content); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "send message")
	}

	message := &models.Message{
		ID:        id.NewMessageID(),
		PartnerID: partnerID,
		Direction: models.DirectionOutgoing,
		Content:   content,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.Append(ctx, message); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "append message")
	}

	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionMessageSent,
		Actor:    requestcontext.Actor(ctx),
		EntityID: partnerID.String(),
	})
	return message, nil
}

// RecordInbound appends a message received from a partner, resolved by DID.
// Messages from unknown DIDs are logged and dropped: the sender is not a
// partner, so there is no log to append to.
func (s *Service) RecordInbound(ctx context.Context, senderDID id.DID, content string) (*models.Message, error) {
	partner, err := s.partners.GetByDID(ctx, senderDID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			s.logger.WarnContext(ctx, "dropping message from unknown DID", "did", senderDID)
			return nil, nil
		}
		return nil, err
	}

	message := &models.Message{
		ID:        id.NewMessageID(),
		PartnerID: partner.ID,
		Direction: models.DirectionIncoming,
		Content:   content,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.Append(ctx, message); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "append message")
	}
	return message, nil
}

// ListByPartner returns the full message log for a partner in creation order.
func (s *Service) ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Message, error) {
	if _, err := s.partners.Get(ctx, partnerID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list messages")
	}
	return messages, nil
}
