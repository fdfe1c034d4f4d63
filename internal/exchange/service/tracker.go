package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"accord/internal/agent"
	"accord/internal/exchange/models"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

// errUntrustedIssuer short-circuits the concurrent trust checks.
var errUntrustedIssuer = errors.New("untrusted issuer")

// untrustedIssuerDetail names the issuer and schema that failed the policy.
type untrustedIssuerDetail struct {
	issuerDID id.DID
	schemaID  id.SchemaID
}

// ApplyEvent drives an exchange forward from one inbound protocol event. The
// tracker is the single write path for event-driven transitions, for both
// kinds.
//
// Never treat a problem here as fatal for the delivery channel: unknown
// correlation IDs return unknown_exchange (the gateway logs and acks),
// duplicates, illegal transitions, unrecognized states, and unparseable
// payloads are absorbed as no-ops, and a policy rejection declines the
// exchange instead of erroring. Redelivering any of these cannot help, so
// none of them may bounce the webhook.
func (s *Service) ApplyEvent(ctx context.Context, event agent.InboundEvent) (*models.Exchange, error) {
	exchange, err := s.store.FindByCorrelationID(ctx, event.CorrelationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if s.metrics != nil {
				s.metrics.UnknownCorrelationEvents.Inc()
			}
			return nil, pkgerrors.New(pkgerrors.CodeUnknownExchange, fmt.Sprintf(
				"no exchange for correlation ID %q", event.CorrelationID))
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "find exchange by correlation ID")
	}

	next := models.State(event.NewState)
	if err := exchange.CanTransitionTo(next); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition) {
			if s.metrics != nil {
				s.metrics.IllegalTransitionsDropped.Inc()
			}
			s.logger.WarnContext(ctx, "discarding illegal exchange transition",
				"exchange_id", exchange.ID, "from", exchange.State, "to", next)
			return exchange, nil
		}
		// A state the kind's table does not know (agents speak dialects).
		if s.metrics != nil {
			s.metrics.MalformedEventsDropped.Inc()
		}
		s.logger.WarnContext(ctx, "discarding exchange event with unrecognized state",
			"exchange_id", exchange.ID, "kind", exchange.Kind, "state", event.NewState)
		return exchange, nil
	}
	if exchange.State == next {
		if s.metrics != nil {
			s.metrics.DuplicateEventDeliveries.Inc()
		}
		return exchange, nil
	}

	// Policy gate on incoming credential material and verified presentations.
	// Outgoing issuance is never gated.
	if detail, gated, err := s.evaluateTrust(ctx, exchange, event, next); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput) {
			if s.metrics != nil {
				s.metrics.MalformedEventsDropped.Inc()
			}
			s.logger.WarnContext(ctx, "discarding exchange event with unparseable payload",
				"exchange_id", exchange.ID, "error", err)
			return exchange, nil
		}
		return nil, err
	} else if gated {
		return s.declineUntrusted(ctx, exchange, detail)
	}

	now := requestcontext.Now(ctx)
	updated, err := s.store.ExecuteByCorrelationID(ctx, event.CorrelationID,
		func(e *models.Exchange) error {
			return e.CanTransitionTo(next)
		},
		func(e *models.Exchange) {
			if e.State == next {
				return
			}
			absorbEventPayload(e, event, next)
			e.ApplyTransition(next, now)
		},
	)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition) || pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput) {
			// A racing delivery won; the event is already accounted for.
			return exchange, nil
		}
		return nil, wrapExchangeErr(err)
	}

	s.recordTransition(ctx, updated.Kind, next, updated.ID)
	if next == models.StateDeclined && event.Kind != "" {
		s.recordDecline(ctx, updated, "counterparty_declined")
	}
	return updated, nil
}

// evaluateTrust decides whether the event must be blocked by the
// trusted-issuer policy. It reports gated=true when the exchange has to be
// declined instead of transitioned.
func (s *Service) evaluateTrust(ctx context.Context, exchange *models.Exchange, event agent.InboundEvent, next models.State) (untrustedIssuerDetail, bool, error) {
	if s.trust == nil || len(event.Payload) == 0 {
		return untrustedIssuerDetail{}, false, nil
	}

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.TrustCheckLatency.Observe(time.Since(start).Seconds())
		}
	}()

	switch {
	case exchange.Kind == models.KindCredential && (next == models.StateOffered || next == models.StateComplete):
		var payload agent.CredentialPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return untrustedIssuerDetail{}, false, pkgerrors.New(pkgerrors.CodeInvalidInput, "malformed credential payload")
		}
		if payload.IssuerDID.IsNil() || payload.SchemaID.IsNil() {
			return untrustedIssuerDetail{}, false, nil
		}
		decision, err := s.trust.IsIssuerTrusted(ctx, payload.SchemaID, payload.IssuerDID)
		if err != nil {
			return untrustedIssuerDetail{}, false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "evaluate issuer trust")
		}
		if !decision.Trusted {
			return untrustedIssuerDetail{issuerDID: payload.IssuerDID, schemaID: payload.SchemaID}, true, nil
		}

	case exchange.Kind == models.KindProof && next == models.StateComplete:
		var payload agent.PresentationPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return untrustedIssuerDetail{}, false, pkgerrors.New(pkgerrors.CodeInvalidInput, "malformed presentation payload")
		}
		detail, untrusted, err := s.checkPresentationIssuers(ctx, payload.Attributes)
		if err != nil {
			return untrustedIssuerDetail{}, false, err
		}
		if untrusted {
			return detail, true, nil
		}
	}
	return untrustedIssuerDetail{}, false, nil
}

// checkPresentationIssuers evaluates every disclosed attribute's issuer
// concurrently. One untrusted issuer condemns the whole presentation.
func (s *Service) checkPresentationIssuers(ctx context.Context, attributes []agent.DisclosedAttribute) (untrustedIssuerDetail, bool, error) {
	var mu sync.Mutex
	var detail untrustedIssuerDetail

	g, gctx := errgroup.WithContext(ctx)
	for _, attr := range attributes {
		if attr.IssuerDID.IsNil() || attr.SchemaID.IsNil() {
			continue
		}
		g.Go(func() error {
			decision, err := s.trust.IsIssuerTrusted(gctx, attr.SchemaID, attr.IssuerDID)
			if err != nil {
				return fmt.Errorf("evaluate issuer %s: %w", attr.IssuerDID, err)
			}
			if !decision.Trusted {
				mu.Lock()
				detail = untrustedIssuerDetail{issuerDID: attr.IssuerDID, schemaID: attr.SchemaID}
				mu.Unlock()
				return errUntrustedIssuer
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, errUntrustedIssuer) {
			return detail, true, nil
		}
		return untrustedIssuerDetail{}, false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "evaluate presentation issuers")
	}
	return untrustedIssuerDetail{}, false, nil
}

// declineUntrusted terminates the exchange with reason untrusted_issuer. The
// protocol succeeded; the policy said no.
func (s *Service) declineUntrusted(ctx context.Context, exchange *models.Exchange, detail untrustedIssuerDetail) (*models.Exchange, error) {
	now := requestcontext.Now(ctx)
	declined, err := s.store.Execute(ctx, exchange.ID,
		func(e *models.Exchange) error {
			return e.CanTransitionTo(models.StateDeclined)
		},
		func(e *models.Exchange) {
			e.IssuerDID = detail.issuerDID
			if !detail.schemaID.IsNil() {
				e.SchemaID = detail.schemaID
			}
			e.ApplyDecline(models.ReasonUntrustedIssuer, now)
		},
	)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition) {
			return exchange, nil
		}
		return nil, wrapExchangeErr(err)
	}

	s.recordDecline(ctx, declined, models.ReasonUntrustedIssuer)
	s.logger.WarnContext(ctx, "exchange declined by trust policy",
		"exchange_id", declined.ID, "issuer_did", detail.issuerDID, "schema_id", detail.schemaID)
	return declined, nil
}

// absorbEventPayload copies event payload fields onto the exchange record.
func absorbEventPayload(e *models.Exchange, event agent.InboundEvent, next models.State) {
	if len(event.Payload) == 0 {
		return
	}
	switch e.Kind {
	case models.KindCredential:
		var payload agent.CredentialPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		if !payload.SchemaID.IsNil() {
			e.SchemaID = payload.SchemaID
		}
		if !payload.IssuerDID.IsNil() {
			e.IssuerDID = payload.IssuerDID
		}
		if payload.DocumentID != "" {
			e.DocumentID = payload.DocumentID
		}
		if next == models.StateComplete && payload.Claims != nil {
			e.Claims = payload.Claims
		}
	case models.KindProof:
		if next != models.StateComplete {
			return
		}
		var payload agent.PresentationPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		e.Attributes = payload.Attributes
	}
}
