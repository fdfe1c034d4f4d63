package store

import (
	"context"

	"accord/internal/chat/models"
	id "accord/pkg/domain"
)

// Store persists the append-only message log. ListByPartner returns messages
// in creation order and never returns a nil slice.
type Store interface {
	Append(ctx context.Context, message *models.Message) error
	ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Message, error)
}
