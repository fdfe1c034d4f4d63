// Package service implements the trust registry: credential schemas, trusted
// issuer restrictions, and credential definitions.
//
// Trust policy: a schema with zero restrictions accepts any issuer. The first
// restriction flips the schema to an allow-list, and from then on only listed
// issuer DIDs pass the trust check. Removing the last restriction reopens the
// schema.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accord/internal/audit"
	"accord/internal/trust/metrics"
	"accord/internal/trust/models"
	"accord/internal/trust/store"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	psync "accord/pkg/platform/sync"
	"accord/pkg/requestcontext"
)

// Policy names reported by trust checks.
const (
	PolicyOpen      = "open"
	PolicyAllowList = "allow_list"
)

// TrustDecision is the outcome of an issuer trust check.
type TrustDecision struct {
	Trusted bool   `json:"trusted"`
	Policy  string `json:"policy"`
}

type Option func(*Service)

// Service enforces trust-registry rules on top of the store. Mutations on a
// schema and its dependents are serialized per schema ID so the delete guard
// cannot race a concurrent restriction or definition add.
type Service struct {
	store   store.Store
	auditor audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	locks   *psync.ShardedMutex
}

func NewService(st store.Store, auditor audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:   st,
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

// RegisterSchemaInput carries the fields needed to register a schema.
type RegisterSchemaInput struct {
	SchemaID   id.SchemaID
	Label      string
	Attributes []string
}

func (s *Service) RegisterSchema(ctx context.Context, in RegisterSchemaInput) (*models.Schema, error) {
	if in.SchemaID.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "schema ID is required")
	}
	if len(in.Attributes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "schema must declare at least one attribute")
	}

	schema := &models.Schema{
		ID:         in.SchemaID,
		Label:      in.Label,
		Attributes: append([]string(nil), in.Attributes...),
		CreatedAt:  requestcontext.Now(ctx),
	}
	if err := s.store.SaveSchema(ctx, schema); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("schema %s is already registered", in.SchemaID))
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "register schema")
	}

	if s.metrics != nil {
		s.metrics.SchemasRegistered.Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionSchemaAdded,
		Actor:    requestcontext.Actor(ctx),
		EntityID: schema.ID.String(),
		Detail:   map[string]string{"label": schema.Label},
	})
	s.logger.InfoContext(ctx, "schema registered", "schema_id", schema.ID, "label", schema.Label)
	return schema, nil
}

func (s *Service) GetSchema(ctx context.Context, schemaID id.SchemaID) (*models.Schema, error) {
	schema, err := s.store.FindSchema(ctx, schemaID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, unknownSchema(schemaID)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "get schema")
	}
	return schema, nil
}

func (s *Service) ListSchemas(ctx context.Context) ([]*models.Schema, error) {
	schemas, err := s.store.ListSchemas(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list schemas")
	}
	return schemas, nil
}

// DeleteSchema removes a schema, refusing while any restriction or credential
// definition still references it. The guard and the delete run under the
// schema's lock so a concurrent add cannot slip between them.
func (s *Service) DeleteSchema(ctx context.Context, schemaID id.SchemaID) error {
	if schemaID.IsNil() {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "schema ID is required")
	}

	err := s.locks.With(schemaID.String(), func() error {
		restrictions, err := s.store.CountRestrictions(ctx, schemaID)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "count restrictions")
		}
		definitions, err := s.store.CountCredentialDefinitions(ctx, schemaID)
		if err != nil {
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "count credential definitions")
		}
		if restrictions > 0 || definitions > 0 {
			if s.metrics != nil {
				s.metrics.SchemaDeleteBlocked.Inc()
			}
			return pkgerrors.New(pkgerrors.CodeReferentialIntegrity, fmt.Sprintf(
				"schema %s is still referenced by %d restriction(s) and %d credential definition(s)",
				schemaID, restrictions, definitions))
		}

		if err := s.store.DeleteSchema(ctx, schemaID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return unknownSchema(schemaID)
			}
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "delete schema")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SchemasDeleted.Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionSchemaDeleted,
		Actor:    requestcontext.Actor(ctx),
		EntityID: schemaID.String(),
	})
	s.logger.InfoContext(ctx, "schema deleted", "schema_id", schemaID)
	return nil
}

// CanDeleteSchema reports whether a schema is currently deletable, without
// deleting it. Advisory only: the answer can change before a delete runs.
func (s *Service) CanDeleteSchema(ctx context.Context, schemaID id.SchemaID) (bool, error) {
	if _, err := s.GetSchema(ctx, schemaID); err != nil {
		return false, err
	}
	restrictions, err := s.store.CountRestrictions(ctx, schemaID)
	if err != nil {
		return false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "count restrictions")
	}
	definitions, err := s.store.CountCredentialDefinitions(ctx, schemaID)
	if err != nil {
		return false, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "count credential definitions")
	}
	return restrictions == 0 && definitions == 0, nil
}

// AddRestriction appends an issuer DID to a schema's allow-list. Adding the
// first restriction flips the schema from open policy to allow-list.
func (s *Service) AddRestriction(ctx context.Context, schemaID id.SchemaID, issuerDID id.DID, label string) (*models.TrustedIssuerRestriction, error) {
	if schemaID.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "schema ID is required")
	}
	if issuerDID.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "issuer DID is required")
	}

	restriction := &models.TrustedIssuerRestriction{
		ID:        id.NewRestrictionID(),
		SchemaID:  schemaID,
		IssuerDID: issuerDID,
		Label:     label,
		CreatedAt: requestcontext.Now(ctx),
	}

	err := s.locks.With(schemaID.String(), func() error {
		if _, err := s.store.FindSchema(ctx, schemaID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return unknownSchema(schemaID)
			}
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "find schema")
		}
		if err := s.store.AddRestriction(ctx, restriction); err != nil {
			if errors.Is(err, sentinel.ErrDuplicate) {
				return pkgerrors.New(pkgerrors.CodeDuplicateRestriction, fmt.Sprintf(
					"issuer %s is already trusted for schema %s", issuerDID, schemaID))
			}
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "add restriction")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RestrictionsAdded.Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionRestrictionAdded,
		Actor:    requestcontext.Actor(ctx),
		EntityID: restriction.ID.String(),
		Detail: map[string]string{
			"schema_id":  schemaID.String(),
			"issuer_did": issuerDID.String(),
		},
	})
	s.logger.InfoContext(ctx, "trusted issuer added", "schema_id", schemaID, "issuer_did", issuerDID)
	return restriction, nil
}

func (s *Service) GetRestriction(ctx context.Context, restrictionID id.RestrictionID) (*models.TrustedIssuerRestriction, error) {
	restriction, err := s.store.FindRestriction(ctx, restrictionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("restriction %s not found", restrictionID))
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "get restriction")
	}
	return restriction, nil
}

// UpdateRestrictionLabel changes the display label only. Schema ID and issuer
// DID are immutable once a restriction exists.
func (s *Service) UpdateRestrictionLabel(ctx context.Context, restrictionID id.RestrictionID, label string) (*models.TrustedIssuerRestriction, error) {
	restriction, err := s.store.UpdateRestrictionLabel(ctx, restrictionID, label)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("restriction %s not found", restrictionID))
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "update restriction label")
	}
	return restriction, nil
}

// RemoveRestriction deletes one allow-list entry. Removing the last entry for
// a schema reopens the schema to any issuer.
func (s *Service) RemoveRestriction(ctx context.Context, restrictionID id.RestrictionID) error {
	restriction, err := s.GetRestriction(ctx, restrictionID)
	if err != nil {
		return err
	}

	err = s.locks.With(restriction.SchemaID.String(), func() error {
		if err := s.store.DeleteRestriction(ctx, restrictionID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("restriction %s not found", restrictionID))
			}
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "delete restriction")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RestrictionsRemoved.Inc()
	}
	s.auditor.Emit(ctx, audit.Event{
		Action:   audit.ActionRestrictionRemoved,
		Actor:    requestcontext.Actor(ctx),
		EntityID: restrictionID.String(),
		Detail: map[string]string{
			"schema_id":  restriction.SchemaID.String(),
			"issuer_did": restriction.IssuerDID.String(),
		},
	})
	return nil
}

func (s *Service) ListRestrictions(ctx context.Context, schemaID id.SchemaID) ([]*models.TrustedIssuerRestriction, error) {
	if _, err := s.GetSchema(ctx, schemaID); err != nil {
		return nil, err
	}
	restrictions, err := s.store.ListRestrictionsBySchema(ctx, schemaID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list restrictions")
	}
	return restrictions, nil
}

// IsIssuerTrusted evaluates the trust policy for one (schema, issuer) pair.
// Outgoing issuance is never gated here; callers apply this check to incoming
// credential offers and to disclosed proof attributes only.
func (s *Service) IsIssuerTrusted(ctx context.Context, schemaID id.SchemaID, issuerDID id.DID) (TrustDecision, error) {
	restrictions, err := s.store.ListRestrictionsBySchema(ctx, schemaID)
	if err != nil {
		return TrustDecision{}, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list restrictions")
	}

	decision := TrustDecision{Trusted: true, Policy: PolicyOpen}
	if len(restrictions) > 0 {
		decision.Policy = PolicyAllowList
		decision.Trusted = false
		for _, restriction := range restrictions {
			if restriction.IssuerDID == issuerDID {
				decision.Trusted = true
				break
			}
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveTrustCheck(decision.Policy, decision.Trusted, len(restrictions))
	}
	if !decision.Trusted {
		s.auditor.Emit(ctx, audit.Event{
			Action:   audit.ActionTrustDenied,
			EntityID: schemaID.String(),
			Detail:   map[string]string{"issuer_did": issuerDID.String()},
		})
		s.logger.WarnContext(ctx, "issuer denied by allow-list", "schema_id", schemaID, "issuer_did", issuerDID)
	}
	return decision, nil
}

// AddCredentialDefinitionInput carries the fields needed to create a
// credential definition under an existing schema.
type AddCredentialDefinitionInput struct {
	SchemaID               id.SchemaID
	Tag                    string
	SupportsRevocation     bool
	RevocationRegistrySize int
}

func (s *Service) AddCredentialDefinition(ctx context.Context, in AddCredentialDefinitionInput) (*models.CredentialDefinition, error) {
	if in.SchemaID.IsNil() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "schema ID is required")
	}
	if in.Tag == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "tag is required")
	}
	if in.SupportsRevocation && in.RevocationRegistrySize <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "revocation registry size must be positive when revocation is enabled")
	}

	def := &models.CredentialDefinition{
		ID:                     id.NewCredentialDefinitionID(),
		SchemaID:               in.SchemaID,
		LedgerID:               fmt.Sprintf("%s:3:CL:%s", in.SchemaID, in.Tag),
		Tag:                    in.Tag,
		SupportsRevocation:     in.SupportsRevocation,
		RevocationRegistrySize: in.RevocationRegistrySize,
		CreatedAt:              requestcontext.Now(ctx),
	}

	err := s.locks.With(in.SchemaID.String(), func() error {
		if _, err := s.store.FindSchema(ctx, in.SchemaID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return unknownSchema(in.SchemaID)
			}
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "find schema")
		}
		if err := s.store.SaveCredentialDefinition(ctx, def); err != nil {
			if errors.Is(err, sentinel.ErrDuplicate) {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf(
					"credential definition with tag %q already exists for schema %s", in.Tag, in.SchemaID))
			}
			return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "save credential definition")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "credential definition created", "schema_id", in.SchemaID, "tag", in.Tag)
	return def, nil
}

func (s *Service) DeleteCredentialDefinition(ctx context.Context, defID id.CredentialDefinitionID) error {
	if err := s.store.DeleteCredentialDefinition(ctx, defID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("credential definition %s not found", defID))
		}
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "delete credential definition")
	}
	return nil
}

func (s *Service) ListCredentialDefinitions(ctx context.Context, schemaID id.SchemaID) ([]*models.CredentialDefinition, error) {
	if _, err := s.GetSchema(ctx, schemaID); err != nil {
		return nil, err
	}
	defs, err := s.store.ListCredentialDefinitionsBySchema(ctx, schemaID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "list credential definitions")
	}
	return defs, nil
}

func unknownSchema(schemaID id.SchemaID) error {
	return pkgerrors.New(pkgerrors.CodeUnknownSchema, fmt.Sprintf("schema %s is not registered", schemaID))
}
