// Package models defines credential and proof exchanges and their shared
// state machine.
package models

import (
	"fmt"
	"time"

	"accord/internal/agent"
	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
)

// Kind distinguishes credential exchanges from proof exchanges. Both kinds
// run on the same engine with kind-specific transition tables.
type Kind string

const (
	KindCredential Kind = "credential"
	KindProof      Kind = "proof"
)

// Role is this agent's role in the exchange.
type Role string

const (
	RoleHolder   Role = "holder"
	RoleIssuer   Role = "issuer"
	RoleProver   Role = "prover"
	RoleVerifier Role = "verifier"
)

// State is the lifecycle state of an exchange.
//
// Credential exchanges run proposed -> offered -> in_progress -> complete.
// Proof exchanges run proposed -> requested -> in_progress -> complete.
// declined and abandoned are terminal and reachable from any non-terminal
// state. Transitions are forward-only and terminal states absorb.
type State string

const (
	StateProposed   State = "proposed"
	StateOffered    State = "offered"
	StateRequested  State = "requested"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
	StateDeclined   State = "declined"
	StateAbandoned  State = "abandoned"
)

// Decline reasons recorded on terminal exchanges.
const (
	ReasonUntrustedIssuer = "untrusted_issuer"
	ReasonPartnerRemoved  = "partner_removed"
)

// Per-kind forward ranks. A state missing from the kind's table is illegal
// for that kind (a proof exchange is never "offered").
var stateRanks = map[Kind]map[State]int{
	KindCredential: {
		StateProposed:   0,
		StateOffered:    1,
		StateInProgress: 2,
		StateComplete:   3,
	},
	KindProof: {
		StateProposed:   0,
		StateRequested:  1,
		StateInProgress: 2,
		StateComplete:   3,
	},
}

func (s State) IsTerminal() bool {
	switch s {
	case StateComplete, StateDeclined, StateAbandoned:
		return true
	}
	return false
}

// Exchange is one credential or proof exchange with a partner.
type Exchange struct {
	ID        id.ExchangeID `json:"id"`
	PartnerID id.PartnerID  `json:"partner_id"`
	Kind      Kind          `json:"kind"`
	Role      Role          `json:"role"`
	State     State         `json:"state"`

	// CorrelationID links protocol-agent events to this exchange.
	CorrelationID string `json:"correlation_id"`

	// DocumentID names the logical request: the document a credential
	// exchange is about, or the proof spec's name (falling back to its
	// schema) for proofs. The one-live-exchange guard keys on it.
	DocumentID string `json:"document_id,omitempty"`

	// SchemaID and IssuerDID are learned from the offer or the issued
	// credential; for proofs they are per-attribute (see Attributes).
	SchemaID  id.SchemaID `json:"schema_id,omitempty"`
	IssuerDID id.DID      `json:"issuer_did,omitempty"`

	// Claims holds the issued credential's attribute values once complete.
	Claims map[string]string `json:"claims,omitempty"`

	// Attributes holds the disclosed presentation for completed proofs.
	Attributes []agent.DisclosedAttribute `json:"attributes,omitempty"`

	DeclineReason string `json:"decline_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen reports whether the exchange is still live.
func (e *Exchange) IsOpen() bool {
	return !e.State.IsTerminal()
}

// CanTransitionTo validates a state change without applying it. A transition
// to the current state is legal; duplicate event deliveries must not fail.
func (e *Exchange) CanTransitionTo(next State) error {
	if e.State == next {
		return nil
	}
	if e.State.IsTerminal() {
		return illegalTransition(e.Kind, e.State, next)
	}
	if next == StateDeclined || next == StateAbandoned {
		return nil
	}

	ranks := stateRanks[e.Kind]
	nextRank, ok := ranks[next]
	if !ok {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("state %q is not valid for a %s exchange", next, e.Kind))
	}
	if nextRank < ranks[e.State] {
		return illegalTransition(e.Kind, e.State, next)
	}
	return nil
}

// ApplyTransition moves the exchange to next. Callers validate first with
// CanTransitionTo; Execute callbacks pair the two under the store's lock.
func (e *Exchange) ApplyTransition(next State, now time.Time) {
	e.State = next
	e.UpdatedAt = now
}

// ApplyDecline terminates the exchange with a reason.
func (e *Exchange) ApplyDecline(reason string, now time.Time) {
	e.State = StateDeclined
	e.DeclineReason = reason
	e.UpdatedAt = now
}

// ApplyAbandon terminates the exchange without a counterparty decision.
func (e *Exchange) ApplyAbandon(reason string, now time.Time) {
	e.State = StateAbandoned
	e.DeclineReason = reason
	e.UpdatedAt = now
}

func illegalTransition(kind Kind, from, to State) error {
	return dErrors.New(dErrors.CodeIllegalTransition, fmt.Sprintf("%s exchange cannot move from %q to %q", kind, from, to))
}
