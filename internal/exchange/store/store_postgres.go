package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"accord/internal/agent"
	"accord/internal/exchange/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

const exchangeColumns = "id, partner_id, kind, role, state, correlation_id, document_id, schema_id, issuer_did, claims, attributes, decline_reason, created_at, updated_at"

const openStatesClause = "state NOT IN ('complete', 'declined', 'abandoned')"

// PostgresStore persists exchanges in PostgreSQL. Execute uses
// SELECT ... FOR UPDATE so event application is serialized per row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed exchange store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, exchange *models.Exchange) error {
	claims, attributes, err := marshalPayloads(exchange)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO exchanges (` + exchangeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(exchange.ID),
		uuid.UUID(exchange.PartnerID),
		string(exchange.Kind),
		string(exchange.Role),
		string(exchange.State),
		exchange.CorrelationID,
		exchange.DocumentID,
		string(exchange.SchemaID),
		exchange.IssuerDID.String(),
		claims,
		attributes,
		exchange.DeclineReason,
		exchange.CreatedAt,
		exchange.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("save exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, exchangeID id.ExchangeID) (*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE id = $1`
	return s.findOne(ctx, query, uuid.UUID(exchangeID))
}

func (s *PostgresStore) FindByCorrelationID(ctx context.Context, correlationID string) (*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE correlation_id = $1`
	return s.findOne(ctx, query, correlationID)
}

func (s *PostgresStore) ListByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE partner_id = $1 ORDER BY created_at`
	return s.list(ctx, query, uuid.UUID(partnerID))
}

func (s *PostgresStore) ListOpenByPartner(ctx context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE partner_id = $1 AND ` + openStatesClause + ` ORDER BY created_at`
	return s.list(ctx, query, uuid.UUID(partnerID))
}

func (s *PostgresStore) FindOpenByPartnerAndDocument(ctx context.Context, partnerID id.PartnerID, kind models.Kind, documentID string) (*models.Exchange, error) {
	query := `
		SELECT ` + exchangeColumns + `
		FROM exchanges
		WHERE partner_id = $1 AND kind = $2 AND document_id = $3 AND ` + openStatesClause + `
		ORDER BY created_at
		LIMIT 1
	`
	exchange, err := scanExchange(s.db.QueryRowContext(ctx, query, uuid.UUID(partnerID), string(kind), documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find open exchange: %w", err)
	}
	return exchange, nil
}

func (s *PostgresStore) CountCompletedByPartner(ctx context.Context, partnerID id.PartnerID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exchanges WHERE partner_id = $1 AND state = 'complete'`,
		uuid.UUID(partnerID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed exchanges: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Execute(ctx context.Context, exchangeID id.ExchangeID, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE id = $1 FOR UPDATE`
	return s.execute(ctx, query, uuid.UUID(exchangeID), validate, mutate)
}

func (s *PostgresStore) ExecuteByCorrelationID(ctx context.Context, correlationID string, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error) {
	query := `SELECT ` + exchangeColumns + ` FROM exchanges WHERE correlation_id = $1 FOR UPDATE`
	return s.execute(ctx, query, correlationID, validate, mutate)
}

func (s *PostgresStore) execute(ctx context.Context, lockQuery string, arg any, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin exchange execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	}()

	exchange, err := scanExchange(tx.QueryRowContext(ctx, lockQuery, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find exchange for execute: %w", err)
	}

	if err := validate(exchange); err != nil {
		return nil, err
	}
	mutate(exchange)

	claims, attributes, err := marshalPayloads(exchange)
	if err != nil {
		return nil, err
	}
	update := `
		UPDATE exchanges
		SET state = $2, schema_id = $3, issuer_did = $4, claims = $5, attributes = $6, decline_reason = $7, updated_at = $8
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, update,
		uuid.UUID(exchange.ID),
		string(exchange.State),
		string(exchange.SchemaID),
		exchange.IssuerDID.String(),
		claims,
		attributes,
		exchange.DeclineReason,
		exchange.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update exchange: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit exchange execute: %w", err)
	}
	return exchange, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.Exchange, error) {
	exchange, err := scanExchange(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find exchange: %w", err)
	}
	return exchange, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Exchange, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	exchanges := make([]*models.Exchange, 0)
	for rows.Next() {
		exchange, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}
	return exchanges, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (*models.Exchange, error) {
	var exchange models.Exchange
	var rawID, rawPartnerID uuid.UUID
	var kind, role, state, schemaID, issuerDID string
	var claims, attributes []byte
	if err := row.Scan(&rawID, &rawPartnerID, &kind, &role, &state, &exchange.CorrelationID,
		&exchange.DocumentID, &schemaID, &issuerDID, &claims, &attributes,
		&exchange.DeclineReason, &exchange.CreatedAt, &exchange.UpdatedAt); err != nil {
		return nil, err
	}
	exchange.ID = id.ExchangeID(rawID)
	exchange.PartnerID = id.PartnerID(rawPartnerID)
	exchange.Kind = models.Kind(kind)
	exchange.Role = models.Role(role)
	exchange.State = models.State(state)
	exchange.SchemaID = id.SchemaID(schemaID)
	exchange.IssuerDID = id.DID(issuerDID)
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &exchange.Claims); err != nil {
			return nil, fmt.Errorf("decode claims: %w", err)
		}
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &exchange.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return &exchange, nil
}

func marshalPayloads(exchange *models.Exchange) (claims, attributes []byte, err error) {
	claims = []byte("null")
	if exchange.Claims != nil {
		claims, err = json.Marshal(exchange.Claims)
		if err != nil {
			return nil, nil, fmt.Errorf("encode claims: %w", err)
		}
	}
	attributes = []byte("null")
	if exchange.Attributes != nil {
		attributes, err = json.Marshal([]agent.DisclosedAttribute(exchange.Attributes))
		if err != nil {
			return nil, nil, fmt.Errorf("encode attributes: %w", err)
		}
	}
	return claims, attributes, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
