package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"accord/internal/chat/models"
	id "accord/pkg/domain"
)

// PostgresStore persists the message log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed chat store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO chat_messages (id, partner_id, direction, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(message.ID),
		uuid.UUID(message.PartnerID),
		string(message.Direction),
		message.Content,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Message, error) {
	query := `
		SELECT id, partner_id, direction, content, created_at
		FROM chat_messages
		WHERE partner_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(partnerID))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var message models.Message
		var rawID, rawPartnerID uuid.UUID
		var direction string
		if err := rows.Scan(&rawID, &rawPartnerID, &direction, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		message.ID = id.MessageID(rawID)
		message.PartnerID = id.PartnerID(rawPartnerID)
		message.Direction = models.Direction(direction)
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
