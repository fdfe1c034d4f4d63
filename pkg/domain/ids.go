// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "accord/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a PartnerID where an ExchangeID is expected.
type (
	PartnerID              uuid.UUID
	ExchangeID             uuid.UUID
	RestrictionID          uuid.UUID
	CredentialDefinitionID uuid.UUID
	MessageID              uuid.UUID
)

// DID is a decentralized identifier: a self-describing, globally unique string
// naming a partner. The value is opaque to this service beyond the method prefix.
type DID string

// SchemaID is the content-addressed identifier of a credential schema as
// published on the ledger (e.g. "F6dB7dMVHUQSC64qemnBi7:2:bank_account:1.0").
type SchemaID string

// New functions - generate random identifiers for freshly created entities.

func NewPartnerID() PartnerID                           { return PartnerID(uuid.New()) }
func NewExchangeID() ExchangeID                         { return ExchangeID(uuid.New()) }
func NewRestrictionID() RestrictionID                   { return RestrictionID(uuid.New()) }
func NewCredentialDefinitionID() CredentialDefinitionID { return CredentialDefinitionID(uuid.New()) }
func NewMessageID() MessageID                           { return MessageID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParsePartnerID(s string) (PartnerID, error) {
	id, err := parseUUID(s, "partner ID")
	return PartnerID(id), err
}

func ParseExchangeID(s string) (ExchangeID, error) {
	id, err := parseUUID(s, "exchange ID")
	return ExchangeID(id), err
}

func ParseRestrictionID(s string) (RestrictionID, error) {
	id, err := parseUUID(s, "restriction ID")
	return RestrictionID(id), err
}

func ParseCredentialDefinitionID(s string) (CredentialDefinitionID, error) {
	id, err := parseUUID(s, "credential definition ID")
	return CredentialDefinitionID(id), err
}

func ParseMessageID(s string) (MessageID, error) {
	id, err := parseUUID(s, "message ID")
	return MessageID(id), err
}

// ParseDID validates the minimal structural requirements of a DID: the "did:"
// scheme prefix followed by a method and a method-specific identifier.
func ParseDID(s string) (DID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "DID cannot be empty")
	}
	if !strings.HasPrefix(s, "did:") || strings.Count(s, ":") < 2 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "DID must have the form did:<method>:<identifier>")
	}
	return DID(s), nil
}

// ParseSchemaID accepts any non-empty ledger schema identifier. The format is
// ledger-specific, so only emptiness is rejected here.
func ParseSchemaID(s string) (SchemaID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "schema ID cannot be empty")
	}
	return SchemaID(s), nil
}

// String methods - for logging and debugging.

func (id PartnerID) String() string              { return uuid.UUID(id).String() }
func (id ExchangeID) String() string             { return uuid.UUID(id).String() }
func (id RestrictionID) String() string          { return uuid.UUID(id).String() }
func (id CredentialDefinitionID) String() string { return uuid.UUID(id).String() }
func (id MessageID) String() string              { return uuid.UUID(id).String() }
func (d DID) String() string                     { return string(d) }
func (s SchemaID) String() string                { return string(s) }

// IsNil checks - used for service-layer validation.

func (id PartnerID) IsNil() bool              { return uuid.UUID(id) == uuid.Nil }
func (id ExchangeID) IsNil() bool             { return uuid.UUID(id) == uuid.Nil }
func (id RestrictionID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id CredentialDefinitionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MessageID) IsNil() bool              { return uuid.UUID(id) == uuid.Nil }
func (d DID) IsNil() bool                     { return d == "" }
func (s SchemaID) IsNil() bool                { return s == "" }

// parseUUID is the shared validation logic.
// Note: Nil UUIDs are allowed here. Use IsNil() at the service layer for
// business validation, which allows store lookups to return proper
// "not found" errors for consistency.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must be a valid UUID")
	}
	return id, nil
}
