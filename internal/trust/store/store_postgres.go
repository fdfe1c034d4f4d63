package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"accord/internal/trust/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

// PostgresStore persists the trust registry in PostgreSQL. The unique index
// on (schema_id, issuer_did) makes the duplicate check in AddRestriction
// atomic at the database level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed trust store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveSchema(ctx context.Context, schema *models.Schema) error {
	if schema == nil {
		return fmt.Errorf("schema is required")
	}
	query := `
		INSERT INTO schemas (id, label, attributes, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(schema.ID),
		schema.Label,
		attributesToArray(schema.Attributes),
		schema.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("save schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSchema(ctx context.Context, schemaID id.SchemaID) (*models.Schema, error) {
	query := `
		SELECT id, label, attributes, created_at
		FROM schemas
		WHERE id = $1
	`
	schema, err := scanSchema(s.db.QueryRowContext(ctx, query, string(schemaID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find schema: %w", err)
	}
	return schema, nil
}

func (s *PostgresStore) ListSchemas(ctx context.Context) ([]*models.Schema, error) {
	query := `
		SELECT id, label, attributes, created_at
		FROM schemas
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	schemas := make([]*models.Schema, 0)
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}
	return schemas, nil
}

func (s *PostgresStore) DeleteSchema(ctx context.Context, schemaID id.SchemaID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schemas WHERE id = $1`, string(schemaID))
	if err != nil {
		return fmt.Errorf("delete schema: %w", err)
	}
	return requireRowAffected(res)
}

func (s *PostgresStore) AddRestriction(ctx context.Context, restriction *models.TrustedIssuerRestriction) error {
	if restriction == nil {
		return fmt.Errorf("restriction is required")
	}
	query := `
		INSERT INTO trusted_issuer_restrictions (id, schema_id, issuer_did, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(restriction.ID),
		string(restriction.SchemaID),
		restriction.IssuerDID.String(),
		restriction.Label,
		restriction.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("add restriction: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRestriction(ctx context.Context, restrictionID id.RestrictionID) (*models.TrustedIssuerRestriction, error) {
	query := `
		SELECT id, schema_id, issuer_did, label, created_at
		FROM trusted_issuer_restrictions
		WHERE id = $1
	`
	restriction, err := scanRestriction(s.db.QueryRowContext(ctx, query, uuid.UUID(restrictionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find restriction: %w", err)
	}
	return restriction, nil
}

func (s *PostgresStore) UpdateRestrictionLabel(ctx context.Context, restrictionID id.RestrictionID, label string) (*models.TrustedIssuerRestriction, error) {
	query := `
		UPDATE trusted_issuer_restrictions
		SET label = $2
		WHERE id = $1
		RETURNING id, schema_id, issuer_did, label, created_at
	`
	restriction, err := scanRestriction(s.db.QueryRowContext(ctx, query, uuid.UUID(restrictionID), label))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("update restriction label: %w", err)
	}
	return restriction, nil
}

func (s *PostgresStore) DeleteRestriction(ctx context.Context, restrictionID id.RestrictionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trusted_issuer_restrictions WHERE id = $1`, uuid.UUID(restrictionID))
	if err != nil {
		return fmt.Errorf("delete restriction: %w", err)
	}
	return requireRowAffected(res)
}

func (s *PostgresStore) ListRestrictionsBySchema(ctx context.Context, schemaID id.SchemaID) ([]*models.TrustedIssuerRestriction, error) {
	query := `
		SELECT id, schema_id, issuer_did, label, created_at
		FROM trusted_issuer_restrictions
		WHERE schema_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, string(schemaID))
	if err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	restrictions := make([]*models.TrustedIssuerRestriction, 0)
	for rows.Next() {
		restriction, err := scanRestriction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restriction: %w", err)
		}
		restrictions = append(restrictions, restriction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restrictions: %w", err)
	}
	return restrictions, nil
}

func (s *PostgresStore) CountRestrictions(ctx context.Context, schemaID id.SchemaID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trusted_issuer_restrictions WHERE schema_id = $1`,
		string(schemaID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count restrictions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveCredentialDefinition(ctx context.Context, def *models.CredentialDefinition) error {
	if def == nil {
		return fmt.Errorf("credential definition is required")
	}
	query := `
		INSERT INTO credential_definitions (id, schema_id, ledger_id, tag, supports_revocation, revocation_registry_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(def.ID),
		string(def.SchemaID),
		def.LedgerID,
		def.Tag,
		def.SupportsRevocation,
		def.RevocationRegistrySize,
		def.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("save credential definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCredentialDefinition(ctx context.Context, defID id.CredentialDefinitionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credential_definitions WHERE id = $1`, uuid.UUID(defID))
	if err != nil {
		return fmt.Errorf("delete credential definition: %w", err)
	}
	return requireRowAffected(res)
}

func (s *PostgresStore) ListCredentialDefinitionsBySchema(ctx context.Context, schemaID id.SchemaID) ([]*models.CredentialDefinition, error) {
	query := `
		SELECT id, schema_id, ledger_id, tag, supports_revocation, revocation_registry_size, created_at
		FROM credential_definitions
		WHERE schema_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, string(schemaID))
	if err != nil {
		return nil, fmt.Errorf("list credential definitions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	defs := make([]*models.CredentialDefinition, 0)
	for rows.Next() {
		var def models.CredentialDefinition
		var rawID uuid.UUID
		var rawSchema string
		if err := rows.Scan(&rawID, &rawSchema, &def.LedgerID, &def.Tag, &def.SupportsRevocation, &def.RevocationRegistrySize, &def.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential definition: %w", err)
		}
		def.ID = id.CredentialDefinitionID(rawID)
		def.SchemaID = id.SchemaID(rawSchema)
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential definitions: %w", err)
	}
	return defs, nil
}

func (s *PostgresStore) CountCredentialDefinitions(ctx context.Context, schemaID id.SchemaID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credential_definitions WHERE schema_id = $1`,
		string(schemaID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credential definitions: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchema(row rowScanner) (*models.Schema, error) {
	var schema models.Schema
	var rawID string
	var attrs []byte
	if err := row.Scan(&rawID, &schema.Label, &attrs, &schema.CreatedAt); err != nil {
		return nil, err
	}
	schema.ID = id.SchemaID(rawID)
	schema.Attributes = arrayToAttributes(attrs)
	return &schema, nil
}

func scanRestriction(row rowScanner) (*models.TrustedIssuerRestriction, error) {
	var restriction models.TrustedIssuerRestriction
	var rawID uuid.UUID
	var rawSchema, rawDID string
	if err := row.Scan(&rawID, &rawSchema, &rawDID, &restriction.Label, &restriction.CreatedAt); err != nil {
		return nil, err
	}
	restriction.ID = id.RestrictionID(rawID)
	restriction.SchemaID = id.SchemaID(rawSchema)
	restriction.IssuerDID = id.DID(rawDID)
	return &restriction, nil
}

// Attribute lists are stored as a JSON array in a jsonb column.
func attributesToArray(attrs []string) []byte {
	if attrs == nil {
		attrs = []string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func arrayToAttributes(raw []byte) []string {
	attrs := make([]string, 0)
	if len(raw) == 0 {
		return attrs
	}
	_ = json.Unmarshal(raw, &attrs)
	return attrs
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func requireRowAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
