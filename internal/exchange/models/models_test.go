package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	pkgerrors "accord/pkg/domain-errors"
)

func TestCanTransitionToCredential(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{"proposed to offered", StateProposed, StateOffered, true},
		{"offered to in_progress", StateOffered, StateInProgress, true},
		{"in_progress to complete", StateInProgress, StateComplete, true},
		{"forward skip", StateProposed, StateComplete, true},
		{"decline from any open state", StateOffered, StateDeclined, true},
		{"abandon from any open state", StateProposed, StateAbandoned, true},
		{"duplicate delivery is legal", StateOffered, StateOffered, true},
		{"backward move", StateInProgress, StateOffered, false},
		{"complete absorbs", StateComplete, StateDeclined, false},
		{"declined absorbs", StateDeclined, StateComplete, false},
		{"abandoned absorbs", StateAbandoned, StateInProgress, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Exchange{Kind: KindCredential, State: tt.from}
			err := e.CanTransitionTo(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition))
			}
		})
	}
}

func TestCanTransitionToProof(t *testing.T) {
	e := &Exchange{Kind: KindProof, State: StateProposed}
	assert.NoError(t, e.CanTransitionTo(StateRequested))

	// "offered" belongs to the credential table only.
	err := e.CanTransitionTo(StateOffered)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))

	e.State = StateRequested
	assert.NoError(t, e.CanTransitionTo(StateInProgress))
	assert.NoError(t, e.CanTransitionTo(StateComplete))
}

func TestKindTableIsolation(t *testing.T) {
	e := &Exchange{Kind: KindCredential, State: StateProposed}
	err := e.CanTransitionTo(StateRequested)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput),
		"requested belongs to the proof table only")
}

func TestTerminalHelpers(t *testing.T) {
	assert.True(t, StateComplete.IsTerminal())
	assert.True(t, StateDeclined.IsTerminal())
	assert.True(t, StateAbandoned.IsTerminal())
	assert.False(t, StateInProgress.IsTerminal())

	e := &Exchange{Kind: KindProof, State: StateRequested}
	assert.True(t, e.IsOpen())
	e.ApplyDecline(ReasonUntrustedIssuer, time.Now())
	assert.False(t, e.IsOpen())
	assert.Equal(t, ReasonUntrustedIssuer, e.DeclineReason)
}

func TestApplyAbandon(t *testing.T) {
	now := time.Now()
	e := &Exchange{Kind: KindCredential, State: StateOffered}
	e.ApplyAbandon(ReasonPartnerRemoved, now)
	assert.Equal(t, StateAbandoned, e.State)
	assert.Equal(t, ReasonPartnerRemoved, e.DeclineReason)
	assert.Equal(t, now, e.UpdatedAt)
}
