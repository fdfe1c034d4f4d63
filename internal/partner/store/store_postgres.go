package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"accord/internal/partner/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

const partnerColumns = "id, did, alias, label, state, roles, incoming, correlation_id, created_at, updated_at"

// PostgresStore persists partners in PostgreSQL. Execute uses
// SELECT ... FOR UPDATE so validate and mutate see a row no concurrent
// transaction can change underneath them.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed partner store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, partner *models.Partner) error {
	query := `
		INSERT INTO partners (` + partnerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(partner.ID),
		nullableString(partner.DID.String()),
		partner.Alias,
		partner.Label,
		string(partner.State),
		rolesToArray(partner.Roles),
		partner.Incoming,
		nullableString(partner.CorrelationID),
		partner.CreatedAt,
		partner.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("save partner: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, partnerID id.PartnerID) (*models.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE id = $1`
	return s.findOne(ctx, query, uuid.UUID(partnerID))
}

func (s *PostgresStore) FindByDID(ctx context.Context, did id.DID) (*models.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE did = $1`
	return s.findOne(ctx, query, did.String())
}

func (s *PostgresStore) FindByCorrelationID(ctx context.Context, correlationID string) (*models.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE correlation_id = $1`
	return s.findOne(ctx, query, correlationID)
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	partners := make([]*models.Partner, 0)
	for rows.Next() {
		partner, err := scanPartner(rows)
		if err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		partners = append(partners, partner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partners: %w", err)
	}
	return partners, nil
}

func (s *PostgresStore) Delete(ctx context.Context, partnerID id.PartnerID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM partners WHERE id = $1`, uuid.UUID(partnerID))
	if err != nil {
		return fmt.Errorf("delete partner: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Execute(ctx context.Context, partnerID id.PartnerID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE id = $1 FOR UPDATE`
	return s.execute(ctx, query, uuid.UUID(partnerID), validate, mutate)
}

func (s *PostgresStore) ExecuteByDID(ctx context.Context, did id.DID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE did = $1 FOR UPDATE`
	return s.execute(ctx, query, did.String(), validate, mutate)
}

func (s *PostgresStore) execute(ctx context.Context, lockQuery string, arg any, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin partner execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
	}()

	partner, err := scanPartner(tx.QueryRowContext(ctx, lockQuery, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find partner for execute: %w", err)
	}

	if err := validate(partner); err != nil {
		return nil, err
	}
	mutate(partner)

	update := `
		UPDATE partners
		SET did = $2, alias = $3, label = $4, state = $5, roles = $6, updated_at = $7
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, update,
		uuid.UUID(partner.ID),
		nullableString(partner.DID.String()),
		partner.Alias,
		partner.Label,
		string(partner.State),
		rolesToArray(partner.Roles),
		partner.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, sentinel.ErrDuplicate
		}
		return nil, fmt.Errorf("update partner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit partner execute: %w", err)
	}
	return partner, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.Partner, error) {
	partner, err := scanPartner(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find partner: %w", err)
	}
	return partner, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartner(row rowScanner) (*models.Partner, error) {
	var partner models.Partner
	var rawID uuid.UUID
	var did, correlationID sql.NullString
	var state string
	var roles []byte
	if err := row.Scan(&rawID, &did, &partner.Alias, &partner.Label, &state, &roles, &partner.Incoming, &correlationID, &partner.CreatedAt, &partner.UpdatedAt); err != nil {
		return nil, err
	}
	partner.ID = id.PartnerID(rawID)
	partner.DID = id.DID(did.String)
	partner.State = models.ConnectionState(state)
	partner.Roles = arrayToRoles(roles)
	partner.CorrelationID = correlationID.String
	return &partner, nil
}

// Role sets are stored as a JSON array in a jsonb column.
func rolesToArray(roles []models.Role) []byte {
	if roles == nil {
		roles = []models.Role{}
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func arrayToRoles(raw []byte) []models.Role {
	if len(raw) == 0 {
		return nil
	}
	var roles []models.Role
	_ = json.Unmarshal(raw, &roles)
	if len(roles) == 0 {
		return nil
	}
	return roles
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
