package store

import (
	"context"

	"accord/internal/trust/models"
	id "accord/pkg/domain"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound when the requested entity does not exist
// - Return sentinel.ErrDuplicate when a uniqueness constraint would be violated
// - Return wrapped errors with context for infrastructure failures

// Store persists the trust registry: schemas, trusted-issuer restrictions,
// and credential definitions. AddRestriction must be atomic with its
// duplicate check: concurrent adds of the same (schema, issuer DID) pair
// yield exactly one success.
type Store interface {
	SaveSchema(ctx context.Context, schema *models.Schema) error
	FindSchema(ctx context.Context, schemaID id.SchemaID) (*models.Schema, error)
	ListSchemas(ctx context.Context) ([]*models.Schema, error)
	DeleteSchema(ctx context.Context, schemaID id.SchemaID) error

	AddRestriction(ctx context.Context, restriction *models.TrustedIssuerRestriction) error
	FindRestriction(ctx context.Context, restrictionID id.RestrictionID) (*models.TrustedIssuerRestriction, error)
	UpdateRestrictionLabel(ctx context.Context, restrictionID id.RestrictionID, label string) (*models.TrustedIssuerRestriction, error)
	DeleteRestriction(ctx context.Context, restrictionID id.RestrictionID) error
	ListRestrictionsBySchema(ctx context.Context, schemaID id.SchemaID) ([]*models.TrustedIssuerRestriction, error)
	CountRestrictions(ctx context.Context, schemaID id.SchemaID) (int, error)

	SaveCredentialDefinition(ctx context.Context, def *models.CredentialDefinition) error
	DeleteCredentialDefinition(ctx context.Context, defID id.CredentialDefinitionID) error
	ListCredentialDefinitionsBySchema(ctx context.Context, schemaID id.SchemaID) ([]*models.CredentialDefinition, error)
	CountCredentialDefinitions(ctx context.Context, schemaID id.SchemaID) (int, error)
}
