// Package agent defines the port to the external protocol agent that executes
// connection, credential, and proof protocols on our behalf. The agent is an
// opaque capability: every call returns as soon as the request is dispatched,
// and outcomes arrive later as webhook events consumed by the gateway.
package agent

import (
	"context"
	"encoding/json"

	id "accord/pkg/domain"
)

//go:generate mockgen -source=agent.go -destination=mocks/mocks.go -package=mocks ProtocolAgent

// Invitation is the out-of-band payload handed to a prospective partner.
// Its contents are produced by the agent and opaque to this service.
type Invitation struct {
	// ConnectionID correlates later connection events with the partner record
	// created for this invitation, before the partner's DID is known.
	ConnectionID  string          `json:"connection_id"`
	InvitationURL string          `json:"invitation_url"`
	Raw           json.RawMessage `json:"invitation"`
}

// ProofSpec names the attributes a verifier wants disclosed, optionally
// restricted to a schema.
type ProofSpec struct {
	Name           string      `json:"name"`
	SchemaID       id.SchemaID `json:"schema_id,omitempty"`
	AttributeNames []string    `json:"attribute_names"`
}

// ProtocolAgent is the outbound capability. Implementations must not block on
// protocol completion; the returned correlation ID links later events to the
// initiated exchange.
type ProtocolAgent interface {
	CreateInvitation(ctx context.Context, label string) (*Invitation, error)
	InitiateCredentialRequest(ctx context.Context, partnerDID id.DID, documentID string) (correlationID string, err error)
	InitiateProofRequest(ctx context.Context, partnerDID id.DID, spec ProofSpec) (correlationID string, err error)
	SendMessage(ctx context.Context, partnerDID id.DID, content string) error
}
