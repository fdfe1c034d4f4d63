package store

import (
	"context"

	"accord/internal/partner/models"
	id "accord/pkg/domain"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound when the requested partner does not exist
// - Return sentinel.ErrDuplicate when an ID, DID, or correlation ID collides
// - Return wrapped errors with context for infrastructure failures

// Store persists partner records. Execute and its lookup variants hold the
// store's lock (mutex or SELECT ... FOR UPDATE) across both callbacks, so a
// validate-then-mutate pair observes and produces consistent state.
type Store interface {
	Save(ctx context.Context, partner *models.Partner) error
	FindByID(ctx context.Context, partnerID id.PartnerID) (*models.Partner, error)
	FindByDID(ctx context.Context, did id.DID) (*models.Partner, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.Partner, error)
	List(ctx context.Context) ([]*models.Partner, error)
	Delete(ctx context.Context, partnerID id.PartnerID) error

	Execute(ctx context.Context, partnerID id.PartnerID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error)
	ExecuteByDID(ctx context.Context, did id.DID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error)
}
