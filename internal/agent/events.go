package agent

import (
	"encoding/json"

	id "accord/pkg/domain"
)

// EventKind classifies inbound protocol events.
type EventKind string

const (
	EventKindConnection EventKind = "connection"
	EventKindCredential EventKind = "credential"
	EventKindProof      EventKind = "proof"
	EventKindMessage    EventKind = "message"
)

// InboundEvent is one record of the agent's webhook stream. Delivery is
// at-least-once and unordered across correlation IDs; within one correlation
// ID order is usual but not guaranteed.
type InboundEvent struct {
	Kind          EventKind       `json:"kind"`
	CorrelationID string          `json:"correlation_id"`
	PartnerDID    id.DID          `json:"partner_did"`
	NewState      string          `json:"new_state"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// CredentialPayload accompanies credential events that carry the issued
// document.
type CredentialPayload struct {
	DocumentID string            `json:"document_id"`
	SchemaID   id.SchemaID       `json:"schema_id"`
	IssuerDID  id.DID            `json:"issuer_did"`
	Claims     map[string]string `json:"claims,omitempty"`
}

// DisclosedAttribute is one attribute revealed in a presentation, together
// with the provenance of the credential it came from.
type DisclosedAttribute struct {
	Name      string      `json:"name"`
	Value     string      `json:"value"`
	SchemaID  id.SchemaID `json:"schema_id"`
	IssuerDID id.DID      `json:"issuer_did"`
}

// PresentationPayload accompanies proof events that carry a verified
// presentation. Verified means the cryptography checked out; trust-policy
// evaluation of the issuers is this service's job.
type PresentationPayload struct {
	Attributes []DisclosedAttribute `json:"attributes"`
}

// MessagePayload accompanies basic-message events.
type MessagePayload struct {
	Content string `json:"content"`
}
