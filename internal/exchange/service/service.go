// Package service implements credential and proof exchange orchestration on a
// shared state-machine engine. Outbound requests dispatch to the protocol
// agent and return immediately; progress arrives as inbound events applied by
// the tracker (see tracker.go).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accord/internal/agent"
	"accord/internal/audit"
	"accord/internal/exchange/metrics"
	"accord/internal/exchange/models"
	"accord/internal/exchange/store"
	partnermodels "accord/internal/partner/models"
	trustservice "accord/internal/trust/service"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	psync "accord/pkg/platform/sync"
	"accord/pkg/requestcontext"
)

// PartnerDirectory is what the exchange service needs from the partner
// module: resolving partners by ID or DID, and recording the role a partner
// plays once an exchange with it starts.
type PartnerDirectory interface {
	Get(ctx context.Context, partnerID id.PartnerID) (*partnermodels.Partner, error)
	GetByDID(ctx context.Context, did id.DID) (*partnermodels.Partner, error)
	GrantRole(ctx context.Context, partnerID id.PartnerID, role partnermodels.Role) error
}

// TrustChecker evaluates the trusted-issuer policy. Satisfied by the trust
// service.
type TrustChecker interface {
	IsIssuerTrusted(ctx context.Context, schemaID id.SchemaID, issuerDID id.DID) (trustservice.TrustDecision, error)
}

type Option func(*Service)

// Service owns exchange records for both kinds. Writes that must not race a
// partner removal take the partner's lock; pass the same ShardedMutex the
// partner service uses (WithLocks) so the cascade in Remove excludes new
// exchanges for that partner.
type Service struct {
	store    store.Store
	partners PartnerDirectory
	trust    TrustChecker
	agent    agent.ProtocolAgent
	auditor  audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	locks    *psync.ShardedMutex
}

func NewService(st store.Store, partners PartnerDirectory, trust TrustChecker, protocolAgent agent.ProtocolAgent, auditor audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:    st,
		partners: partners,
		trust:    trust,
		agent:    protocolAgent,
		auditor:  auditor,
		logger:   logger,
		locks:    psync.NewShardedMutex(),
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

// WithLocks shares a per-partner mutex with the partner service.
func WithLocks(locks *psync.ShardedMutex) Option {
	return func(s *Service) {
		s.locks = locks
	}
}

// RequestCredential starts a credential exchange as holder: this agent asks
// the partner to issue the named document. The partner must be active, and at
// most one live exchange per (partner, document) is allowed. The call returns
// once the request is dispatched; the offer and the credential arrive as
// events.
func (s *Service) RequestCredential(ctx context.Context, partnerID id.PartnerID, documentID string, schemaID id.SchemaID) (*models.Exchange, error) {
	if documentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "document ID is required")
	}

	var exchange *models.Exchange
	err := s.locks.With(partnerID.String(), func() error {
		partner, err := s.requireActivePartner(ctx, partnerID)
		if err != nil {
			return err
		}

		if existing, err := s.store.FindOpenByPartnerAndDocument(ctx, partnerID, models.KindCredential, documentID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf(
				"exchange %s for document %q is still open", existing.ID, documentID))
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "check open exchanges")
		}

		correlationID, err := s.agent.InitiateCredentialRequest(ctx, partner.DID, documentID)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "dispatch credential request")
		}

		now := requestcontext.Now(ctx)
		exchange = &models.Exchange{
			ID:            id.NewExchangeID(),
			PartnerID:     partnerID,
			Kind:          models.KindCredential,
			Role:          models.RoleHolder,
			State:         models.StateProposed,
			CorrelationID: correlationID,
			DocumentID:    documentID,
			SchemaID:      schemaID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.Save(ctx, exchange); err != nil {
			return wrapExchangeErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordStart(ctx, exchange)
	return exchange, nil
}

// RequestProof starts a proof exchange as verifier: this agent asks the
// partner to disclose the attributes named in spec. At most one live proof
// exchange per (partner, proof reference) is allowed, mirroring the
// per-document rule for credentials.
func (s *Service) RequestProof(ctx context.Context, partnerID id.PartnerID, spec agent.ProofSpec) (*models.Exchange, error) {
	if len(spec.AttributeNames) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "at least one attribute is required")
	}
	reference := proofReference(spec)

	var exchange *models.Exchange
	err := s.locks.With(partnerID.String(), func() error {
		partner, err := s.requireActivePartner(ctx, partnerID)
		if err != nil {
			return err
		}

		if reference != "" {
			if existing, err := s.store.FindOpenByPartnerAndDocument(ctx, partnerID, models.KindProof, reference); err == nil {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf(
					"proof exchange %s for %q is still open", existing.ID, reference))
			} else if !errors.Is(err, sentinel.ErrNotFound) {
				return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "check open exchanges")
			}
		}

		correlationID, err := s.agent.InitiateProofRequest(ctx, partner.DID, spec)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "dispatch proof request")
		}

		now := requestcontext.Now(ctx)
		exchange = &models.Exchange{
			ID:            id.NewExchangeID(),
			PartnerID:     partnerID,
			Kind:          models.KindProof,
			Role:          models.RoleVerifier,
			State:         models.StateProposed,
			CorrelationID: correlationID,
			DocumentID:    reference,
			SchemaID:      spec.SchemaID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.Save(ctx, exchange); err != nil {
			return wrapExchangeErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordStart(ctx, exchange)
	return exchange, nil
}

func (s *Service) Get(ctx context.Context, exchangeID id.ExchangeID) (*models.Exchange, error) {
	exchange, err := s.store.FindByID(ctx, exchangeID)
	if err != nil {
		return nil, wrapExchangeErr(err)
	}
	return exchange, nil
}

// ListByPartner returns every exchange with a partner in creation order.
func (s *Service) ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	exchanges, err := s.store.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list exchanges")
	}
	return exchanges, nil
}

// ListPartnerCredentials returns completed credential exchanges: the
// partner's wallet as this agent sees it.
func (s *Service) ListPartnerCredentials(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	return s.listCompletedByKind(ctx, partnerID, models.KindCredential)
}

// ListPartnerProofs returns completed proof exchanges with a partner.
func (s *Service) ListPartnerProofs(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	return s.listCompletedByKind(ctx, partnerID, models.KindProof)
}

func (s *Service) listCompletedByKind(ctx context.Context, partnerID id.PartnerID, kind models.Kind) ([]*models.Exchange, error) {
	exchanges, err := s.store.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list exchanges")
	}
	out := make([]*models.Exchange, 0)
	for _, exchange := range exchanges {
		if exchange.Kind == kind && exchange.State == models.StateComplete {
			out = append(out, exchange)
		}
	}
	return out, nil
}

// Decline terminates an open exchange by local decision.
func (s *Service) Decline(ctx context.Context, exchangeID id.ExchangeID, reason string) (*models.Exchange, error) {
	now := requestcontext.Now(ctx)
	exchange, err := s.store.Execute(ctx, exchangeID,
		func(e *models.Exchange) error {
			return e.CanTransitionTo(models.StateDeclined)
		},
		func(e *models.Exchange) {
			e.ApplyDecline(reason, now)
		},
	)
	if err != nil {
		return nil, wrapExchangeErr(err)
	}

	s.recordDecline(ctx, exchange, reason)
	return exchange, nil
}

// CancelOpenByPartner abandons every live exchange with a partner. Called by
// the partner service during removal, under the shared partner lock.
func (s *Service) CancelOpenByPartner(ctx context.Context, partnerID id.PartnerID, reason string) (int, error) {
	open, err := s.store.ListOpenByPartner(ctx, partnerID)
	if err != nil {
		return 0, fmt.Errorf("list open exchanges: %w", err)
	}

	now := requestcontext.Now(ctx)
	cancelled := 0
	for _, exchange := range open {
		_, err := s.store.Execute(ctx, exchange.ID,
			func(e *models.Exchange) error {
				return e.CanTransitionTo(models.StateAbandoned)
			},
			func(e *models.Exchange) {
				e.ApplyAbandon(reason, now)
			},
		)
		if err != nil {
			// Already terminal by a racing event; nothing to cancel.
			if pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition) {
				continue
			}
			return cancelled, fmt.Errorf("abandon exchange %s: %w", exchange.ID, err)
		}
		cancelled++
		s.recordTransition(ctx, exchange.Kind, models.StateAbandoned, exchange.ID)
	}
	return cancelled, nil
}

// HasCompletedByPartner reports whether any exchange with the partner ever
// completed. The partner service consults this before a DID change.
func (s *Service) HasCompletedByPartner(ctx context.Context, partnerID id.PartnerID) (bool, error) {
	count, err := s.store.CountCompletedByPartner(ctx, partnerID)
	if err != nil {
		return false, fmt.Errorf("count completed exchanges: %w", err)
	}
	return count > 0, nil
}

// proofReference identifies the logical proof request: its name, falling back
// to the schema it is scoped to. Unnamed, schema-less specs get no reference
// and no uniqueness guard.
func proofReference(spec agent.ProofSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return string(spec.SchemaID)
}

func (s *Service) requireActivePartner(ctx context.Context, partnerID id.PartnerID) (*partnermodels.Partner, error) {
	partner, err := s.partners.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner.State != partnermodels.StateActive {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf(
			"partner %s is %s; exchanges require an active connection", partnerID, partner.State))
	}
	return partner, nil
}

// counterpartRole maps this agent's role in an exchange to the role the
// partner plays in it. A prover's counterpart is the verifier; both holder
// and verifier face a partner that holds (and presents) credentials.
func counterpartRole(role models.Role) (partnermodels.Role, bool) {
	switch role {
	case models.RoleHolder:
		return partnermodels.RoleIssuer, true
	case models.RoleIssuer:
		return partnermodels.RoleHolder, true
	case models.RoleVerifier:
		return partnermodels.RoleHolder, true
	case models.RoleProver:
		return partnermodels.RoleVerifier, true
	}
	return "", false
}

func (s *Service) recordStart(ctx context.Context, exchange *models.Exchange) {
	if role, ok := counterpartRole(exchange.Role); ok {
		// Best effort; a failed role grant must not fail the exchange.
		if err := s.partners.GrantRole(ctx, exchange.PartnerID, role); err != nil {
			s.logger.WarnContext(ctx, "failed to record partner role",
				"partner_id", exchange.PartnerID, "role", role, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.ExchangesStarted.WithLabelValues(string(exchange.Kind)).Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionExchangeCreated,
		Actor:    requestcontext.Actor(ctx),
		EntityID: exchange.ID.String(),
		Detail: map[string]string{
			"kind":       string(exchange.Kind),
			"partner_id": exchange.PartnerID.String(),
		},
	})
	s.logger.InfoContext(ctx, "exchange started",
		"exchange_id", exchange.ID, "kind", exchange.Kind, "partner_id", exchange.PartnerID)
}

func (s *Service) recordTransition(ctx context.Context, kind models.Kind, to models.State, exchangeID id.ExchangeID) {
	if s.metrics != nil {
		s.metrics.ExchangeTransitions.WithLabelValues(string(kind), string(to)).Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionExchangeTransition,
		EntityID: exchangeID.String(),
		Detail:   map[string]string{"to": string(to)},
	})
}

func (s *Service) recordDecline(ctx context.Context, exchange *models.Exchange, reason string) {
	if s.metrics != nil {
		s.metrics.ExchangesDeclined.WithLabelValues(reason).Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionExchangeDeclined,
		EntityID: exchange.ID.String(),
		Detail:   map[string]string{"reason": reason},
	})
	s.logger.InfoContext(ctx, "exchange declined", "exchange_id", exchange.ID, "reason", reason)
}

func wrapExchangeErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "exchange not found")
	case errors.Is(err, sentinel.ErrDuplicate):
		return pkgerrors.New(pkgerrors.CodeConflict, "exchange already exists")
	default:
		var domainErr *pkgerrors.Error
		if errors.As(err, &domainErr) {
			return err
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "exchange store")
	}
}
