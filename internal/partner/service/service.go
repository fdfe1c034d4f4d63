// Package service implements the partner lifecycle: creation by invitation or
// by public DID, connection state transitions driven by inbound protocol
// events, and explicit removal with exchange cascade.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"accord/internal/agent"
	"accord/internal/audit"
	"accord/internal/partner/metrics"
	"accord/internal/partner/models"
	"accord/internal/partner/store"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	psync "accord/pkg/platform/sync"
	"accord/pkg/requestcontext"
)

// ExchangePort is what the partner service needs from the exchange module:
// cancelling everything still open when a partner is removed, and knowing
// whether any exchange ever completed when a DID change is requested.
type ExchangePort interface {
	CancelOpenByPartner(ctx context.Context, partnerID id.PartnerID, reason string) (int, error)
	HasCompletedByPartner(ctx context.Context, partnerID id.PartnerID) (bool, error)
}

type Option func(*Service)

// Service owns partner records and their connection state machine. Removal
// holds the partner's lock across the exchange cascade so no new exchange can
// slip in between cancellation and deletion.
type Service struct {
	store     store.Store
	agent     agent.ProtocolAgent
	exchanges ExchangePort
	auditor   audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	locks     *psync.ShardedMutex

	// resetStateOnDIDChange controls whether a manual DID change on a partner
	// with non-initial connection state resets the state machine to invited.
	resetStateOnDIDChange bool
}

func NewService(st store.Store, protocolAgent agent.ProtocolAgent, auditor audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:   st,
		agent:   protocolAgent,
		auditor: auditor,
		logger:  logger,
		locks:   psync.NewShardedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.auditor == nil {
		svc.auditor = audit.Nop{}
	}
	return svc
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocks shares the per-partner mutex with the exchange service. Both
// must serialize on the same instance or removal can race new exchanges.
func WithLocks(locks *psync.ShardedMutex) Option {
	return func(s *Service) {
		s.locks = locks
	}
}

// WithDIDChangeStateReset makes a manual DID change reset the connection
// state machine to invited. Off by default: changing the DID of a partner
// with no exchange history keeps whatever connection state it had.
func WithDIDChangeStateReset() Option {
	return func(s *Service) {
		s.resetStateOnDIDChange = true
	}
}

// BindExchanges wires the exchange port after construction. The exchange
// service depends on partner lookups, so the two are built in sequence and
// this closes the loop.
func (s *Service) BindExchanges(exchanges ExchangePort) {
	s.exchanges = exchanges
}

// CreateFromInvitation asks the protocol agent for a fresh invitation and
// records a partner in invited state. The partner's DID is unknown until the
// handshake reveals it; connection events correlate via the invitation's
// connection ID until then.
func (s *Service) CreateFromInvitation(ctx context.Context, alias string) (*models.Partner, *agent.Invitation, error) {
	invitation, err := s.agent.CreateInvitation(ctx, alias)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "create invitation")
	}

	now := requestcontext.Now(ctx)
	partner := &models.Partner{
		ID:            id.NewPartnerID(),
		Alias:         alias,
		State:         models.StateInvited,
		CorrelationID: invitation.ConnectionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Save(ctx, partner); err != nil {
		return nil, nil, wrapPartnerErr(err)
	}

	if s.metrics != nil {
		s.metrics.PartnersCreated.WithLabelValues("invitation").Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionPartnerCreated,
		Actor:    requestcontext.Actor(ctx),
		EntityID: partner.ID.String(),
		Detail:   map[string]string{"origin": "invitation"},
	})
	s.logger.InfoContext(ctx, "partner created from invitation", "partner_id", partner.ID, "alias", alias)
	return partner, invitation, nil
}

// AddViaDID records a partner by public DID, directly in active state. No
// handshake runs; the DID is assumed resolvable out of band.
func (s *Service) AddViaDID(ctx context.Context, did id.DID, alias string) (*models.Partner, error) {
	if did.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "DID is required")
	}

	now := requestcontext.Now(ctx)
	partner := &models.Partner{
		ID:        id.NewPartnerID(),
		DID:       did,
		Alias:     alias,
		State:     models.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, partner); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("a partner with DID %s already exists", did))
		}
		return nil, wrapPartnerErr(err)
	}

	if s.metrics != nil {
		s.metrics.PartnersCreated.WithLabelValues("did").Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionPartnerCreated,
		Actor:    requestcontext.Actor(ctx),
		EntityID: partner.ID.String(),
		Detail:   map[string]string{"origin": "did", "did": did.String()},
	})
	return partner, nil
}

func (s *Service) Get(ctx context.Context, partnerID id.PartnerID) (*models.Partner, error) {
	partner, err := s.store.FindByID(ctx, partnerID)
	if err != nil {
		return nil, wrapPartnerErr(err)
	}
	return partner, nil
}

func (s *Service) GetByDID(ctx context.Context, did id.DID) (*models.Partner, error) {
	partner, err := s.store.FindByDID(ctx, did)
	if err != nil {
		return nil, wrapPartnerErr(err)
	}
	return partner, nil
}

func (s *Service) List(ctx context.Context) ([]*models.Partner, error) {
	partners, err := s.store.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list partners")
	}
	return partners, nil
}

func (s *Service) SetAlias(ctx context.Context, partnerID id.PartnerID, alias string) (*models.Partner, error) {
	now := requestcontext.Now(ctx)
	partner, err := s.store.Execute(ctx, partnerID,
		func(*models.Partner) error { return nil },
		func(p *models.Partner) {
			p.Alias = alias
			p.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, wrapPartnerErr(err)
	}
	return partner, nil
}

// GrantRole records a role the partner has been observed playing. Granting a
// role the partner already holds is a no-op.
func (s *Service) GrantRole(ctx context.Context, partnerID id.PartnerID, role models.Role) error {
	now := requestcontext.Now(ctx)
	granted := false
	_, err := s.store.Execute(ctx, partnerID,
		func(*models.Partner) error { return nil },
		func(p *models.Partner) {
			if p.AddRole(role) {
				p.UpdatedAt = now
				granted = true
			}
		},
	)
	if err != nil {
		return wrapPartnerErr(err)
	}
	if granted {
		s.logger.InfoContext(ctx, "partner role granted", "partner_id", partnerID, "role", role)
	}
	return nil
}

// Accept responds to an inbound connection request, moving the partner from
// requested to responded. Completion to active arrives later as an event.
func (s *Service) Accept(ctx context.Context, partnerID id.PartnerID) (*models.Partner, error) {
	now := requestcontext.Now(ctx)
	partner, err := s.store.Execute(ctx, partnerID,
		func(p *models.Partner) error {
			if p.State != models.StateRequested {
				return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("partner in state %q cannot be accepted", p.State))
			}
			return nil
		},
		func(p *models.Partner) {
			p.ApplyTransition(models.StateResponded, now)
		},
	)
	if err != nil {
		return nil, wrapPartnerErr(err)
	}

	s.recordTransition(ctx, partner, models.StateResponded)
	return partner, nil
}

// UpsertFromInboundEvent applies a connection event from the protocol agent.
// The partner is resolved by correlation ID first, then by DID; an unknown
// DID creates a shadow record. Illegal transitions and duplicate deliveries
// are logged and discarded, never failed: the gateway has already accepted
// the delivery.
func (s *Service) UpsertFromInboundEvent(ctx context.Context, event agent.InboundEvent) (*models.Partner, error) {
	next := models.ConnectionState(event.NewState)
	if !next.IsValid() {
		s.logger.WarnContext(ctx, "dropping connection event with unknown state",
			"new_state", event.NewState, "partner_did", event.PartnerDID)
		return nil, nil
	}

	partner, err := s.resolveForEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		// Unknown partner: create a shadow record in the event's state.
		return s.createShadow(ctx, event, next)
	}

	now := requestcontext.Now(ctx)
	changed := false
	updated, err := s.store.Execute(ctx, partner.ID,
		func(p *models.Partner) error {
			return p.CanTransitionTo(next)
		},
		func(p *models.Partner) {
			if p.DID.IsNil() && !event.PartnerDID.IsNil() {
				// Handshake revealed the partner's DID.
				p.DID = event.PartnerDID
			}
			if p.State != next {
				p.ApplyTransition(next, now)
				changed = true
			}
		},
	)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition) {
			if s.metrics != nil {
				s.metrics.IllegalTransitionsDropped.Inc()
			}
			s.logger.WarnContext(ctx, "discarding illegal connection transition",
				"partner_id", partner.ID, "from", partner.State, "to", next)
			return partner, nil
		}
		return nil, wrapPartnerErr(err)
	}

	if changed {
		s.recordTransition(ctx, updated, next)
	}
	return updated, nil
}

func (s *Service) resolveForEvent(ctx context.Context, event agent.InboundEvent) (*models.Partner, error) {
	if event.CorrelationID != "" {
		partner, err := s.store.FindByCorrelationID(ctx, event.CorrelationID)
		if err == nil {
			return partner, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "find partner by correlation ID")
		}
	}
	if !event.PartnerDID.IsNil() {
		partner, err := s.store.FindByDID(ctx, event.PartnerDID)
		if err == nil {
			return partner, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "find partner by DID")
		}
	}
	return nil, nil
}

func (s *Service) createShadow(ctx context.Context, event agent.InboundEvent, state models.ConnectionState) (*models.Partner, error) {
	if event.PartnerDID.IsNil() {
		s.logger.WarnContext(ctx, "dropping connection event without DID or known correlation",
			"correlation_id", event.CorrelationID)
		return nil, nil
	}

	now := requestcontext.Now(ctx)
	partner := &models.Partner{
		ID:            id.NewPartnerID(),
		DID:           event.PartnerDID,
		State:         state,
		Incoming:      true,
		CorrelationID: event.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Save(ctx, partner); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			// Concurrent delivery created it first; re-apply through the
			// normal path.
			return s.UpsertFromInboundEvent(ctx, event)
		}
		return nil, wrapPartnerErr(err)
	}

	if s.metrics != nil {
		s.metrics.PartnersCreated.WithLabelValues("shadow").Inc()
		s.metrics.ShadowPartnersCreated.Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionPartnerCreated,
		EntityID: partner.ID.String(),
		Detail:   map[string]string{"origin": "shadow", "did": partner.DID.String()},
	})
	s.logger.InfoContext(ctx, "shadow partner created", "partner_id", partner.ID, "did", partner.DID)
	return partner, nil
}

// Remove deletes a partner. The partner's lock is held across the whole
// cascade: state check, cancellation of open exchanges, then delete. Removal
// is only legal from invited, active, or error.
func (s *Service) Remove(ctx context.Context, partnerID id.PartnerID) error {
	var cancelled int
	err := s.locks.With(partnerID.String(), func() error {
		partner, err := s.store.FindByID(ctx, partnerID)
		if err != nil {
			return wrapPartnerErr(err)
		}
		if err := partner.CanRemove(); err != nil {
			return err
		}

		if s.exchanges != nil {
			cancelled, err = s.exchanges.CancelOpenByPartner(ctx, partnerID, "partner_removed")
			if err != nil {
				return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "cancel open exchanges")
			}
		}

		if err := s.store.Delete(ctx, partnerID); err != nil {
			return wrapPartnerErr(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.PartnersRemoved.Inc()
		s.metrics.ExchangesCancelledOnRemove.Add(float64(cancelled))
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionPartnerRemoved,
		Actor:    requestcontext.Actor(ctx),
		EntityID: partnerID.String(),
		Detail:   map[string]string{"exchanges_cancelled": strconv.Itoa(cancelled)},
	})
	s.logger.InfoContext(ctx, "partner removed", "partner_id", partnerID, "exchanges_cancelled", cancelled)
	return nil
}

// UpdateDID changes a partner's DID. Allowed while the partner is still
// invited, or at any state as long as no exchange ever completed with the old
// DID; otherwise the DID is immutable.
func (s *Service) UpdateDID(ctx context.Context, partnerID id.PartnerID, newDID id.DID) (*models.Partner, error) {
	if newDID.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "DID is required")
	}

	current, err := s.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if current.DID == newDID {
		return current, nil
	}

	if current.State != models.StateInvited && s.exchanges != nil {
		completed, err := s.exchanges.HasCompletedByPartner(ctx, partnerID)
		if err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "check exchange history")
		}
		if completed {
			return nil, pkgerrors.New(pkgerrors.CodeDidImmutable,
				"partner DID cannot change after an exchange has completed")
		}
	}

	now := requestcontext.Now(ctx)
	partner, err := s.store.Execute(ctx, partnerID,
		func(*models.Partner) error { return nil },
		func(p *models.Partner) {
			p.DID = newDID
			p.UpdatedAt = now
			if s.resetStateOnDIDChange && p.State != models.StateInvited {
				p.ApplyTransition(models.StateInvited, now)
			}
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("a partner with DID %s already exists", newDID))
		}
		return nil, wrapPartnerErr(err)
	}
	return partner, nil
}

func (s *Service) recordTransition(ctx context.Context, partner *models.Partner, to models.ConnectionState) {
	if s.metrics != nil {
		s.metrics.ConnectionTransitions.WithLabelValues(string(to)).Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionPartnerTransition,
		EntityID: partner.ID.String(),
		Detail:   map[string]string{"to": string(to)},
	})
}

func wrapPartnerErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "partner not found")
	case errors.Is(err, sentinel.ErrDuplicate):
		return pkgerrors.New(pkgerrors.CodeConflict, "partner already exists")
	default:
		var domainErr *pkgerrors.Error
		if errors.As(err, &domainErr) {
			return err
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "partner store")
	}
}
