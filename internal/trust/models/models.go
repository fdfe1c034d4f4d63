package models

import (
	"time"

	id "accord/pkg/domain"
)

// Schema is a credential schema registered on the ledger. Schemas are
// append-only artifacts: once registered, the attribute list and identifier
// never change. The only mutation the registry allows is deletion, and only
// while nothing references the schema.
type Schema struct {
	ID         id.SchemaID `json:"id"`
	Label      string      `json:"label"`
	Attributes []string    `json:"attributes"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TrustedIssuerRestriction binds a schema to one issuer DID this agent
// accepts claims from.
//
// Policy rule: a schema with zero restrictions trusts any issuer (open
// policy); the first restriction flips the schema to an allow-list. The pair
// (SchemaID, IssuerDID) is unique.
type TrustedIssuerRestriction struct {
	ID        id.RestrictionID `json:"id"`
	SchemaID  id.SchemaID      `json:"schema_id"`
	IssuerDID id.DID           `json:"issuer_did"`
	Label     string           `json:"label"`
	CreatedAt time.Time        `json:"created_at"`
}

// CredentialDefinition is an on-ledger definition this agent issues under.
// It references exactly one schema; the schema cannot be deleted while a
// definition references it.
type CredentialDefinition struct {
	ID                     id.CredentialDefinitionID `json:"id"`
	SchemaID               id.SchemaID               `json:"schema_id"`
	LedgerID               string                    `json:"ledger_id"`
	Tag                    string                    `json:"tag"`
	SupportsRevocation     bool                      `json:"supports_revocation"`
	RevocationRegistrySize int                       `json:"revocation_registry_size"`
	CreatedAt              time.Time                 `json:"created_at"`
}
