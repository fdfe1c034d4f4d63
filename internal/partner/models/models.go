// Package models defines the partner record and its connection state machine.
package models

import (
	"fmt"
	"time"

	id "accord/pkg/domain"
	dErrors "accord/pkg/domain-errors"
)

// ConnectionState is the lifecycle state of a partner's connection.
//
// The happy path runs invited -> requested -> responded -> active. Any
// non-terminal state may fall into error. Removal is never a state: it is an
// explicit delete, allowed only from invited, active, or error.
type ConnectionState string

const (
	StateInvited   ConnectionState = "invited"
	StateRequested ConnectionState = "requested"
	StateResponded ConnectionState = "responded"
	StateActive    ConnectionState = "active"
	StateError     ConnectionState = "error"
)

// forwardRank orders the handshake states. Events may legitimately skip
// intermediate states (deliveries can be lost or coalesced upstream), so any
// strictly forward move is legal.
var forwardRank = map[ConnectionState]int{
	StateInvited:   0,
	StateRequested: 1,
	StateResponded: 2,
	StateActive:    3,
}

func (s ConnectionState) IsValid() bool {
	switch s {
	case StateInvited, StateRequested, StateResponded, StateActive, StateError:
		return true
	}
	return false
}

// Role is a capability a partner has been observed exercising toward this
// agent. A partner accumulates roles; the set is never exclusive, and an
// empty set means none.
type Role string

const (
	RoleIssuer   Role = "issuer"
	RoleVerifier Role = "verifier"
	RoleHolder   Role = "holder"
)

// Partner is one business partner this agent maintains a relationship with.
type Partner struct {
	ID    id.PartnerID    `json:"id"`
	DID   id.DID          `json:"did,omitempty"`
	Alias string          `json:"alias,omitempty"`
	Label string          `json:"label,omitempty"`
	State ConnectionState `json:"state"`

	// Roles the partner has played in exchanges with this agent.
	Roles []Role `json:"roles,omitempty"`

	// Incoming marks partners first seen through an inbound connection
	// request (shadow records) rather than created locally.
	Incoming bool `json:"incoming"`

	// CorrelationID links connection events from the protocol agent to this
	// record before the partner's DID is known.
	CorrelationID string `json:"correlation_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether the partner already holds the role.
func (p *Partner) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AddRole records a role, reporting whether the set changed. The slice is
// replaced rather than appended in place, so shallow copies held by stores
// stay untouched.
func (p *Partner) AddRole(role Role) bool {
	if p.HasRole(role) {
		return false
	}
	roles := make([]Role, 0, len(p.Roles)+1)
	roles = append(roles, p.Roles...)
	p.Roles = append(roles, role)
	return true
}

// CanTransitionTo validates a state change without applying it.
// A transition to the current state is legal and treated as a no-op by
// callers; duplicate event deliveries must not fail.
func (p *Partner) CanTransitionTo(next ConnectionState) error {
	if !next.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown connection state %q", next))
	}
	if p.State == next {
		return nil
	}
	if next == StateError {
		return nil
	}
	if p.State == StateError {
		return illegalTransition(p.State, next)
	}
	if forwardRank[next] < forwardRank[p.State] {
		return illegalTransition(p.State, next)
	}
	return nil
}

// ApplyTransition moves the partner to next. Callers validate first with
// CanTransitionTo; Execute callbacks pair the two under the store's lock.
func (p *Partner) ApplyTransition(next ConnectionState, now time.Time) {
	p.State = next
	p.UpdatedAt = now
}

// CanRemove reports whether an explicit removal is allowed from the current
// state. A handshake in flight (requested, responded) must finish or fail
// before the partner can be removed.
func (p *Partner) CanRemove() error {
	switch p.State {
	case StateInvited, StateActive, StateError:
		return nil
	default:
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("partner in state %q cannot be removed", p.State))
	}
}

func illegalTransition(from, to ConnectionState) error {
	return dErrors.New(dErrors.CodeIllegalTransition, fmt.Sprintf("connection cannot move from %q to %q", from, to))
}
