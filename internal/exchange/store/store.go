package store

import (
	"context"

	"accord/internal/exchange/models"
	id "accord/pkg/domain"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return sentinel.ErrNotFound when the requested exchange does not exist
// - Return sentinel.ErrDuplicate when an ID or correlation ID collides
// - Return wrapped errors with context for infrastructure failures

// Store persists exchanges. Execute holds the store's lock (mutex or
// SELECT ... FOR UPDATE) across validate and mutate. List methods return in
// creation order and never return nil slices.
type Store interface {
	Save(ctx context.Context, exchange *models.Exchange) error
	FindByID(ctx context.Context, exchangeID id.ExchangeID) (*models.Exchange, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.Exchange, error)
	ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error)
	ListOpenByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error)
	FindOpenByPartnerAndDocument(ctx context.Context, partnerID id.PartnerID, kind models.Kind, documentID string) (*models.Exchange, error)
	CountCompletedByPartner(ctx context.Context, partnerID id.PartnerID) (int, error)

	Execute(ctx context.Context, exchangeID id.ExchangeID, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error)
	ExecuteByCorrelationID(ctx context.Context, correlationID string, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error)
}
