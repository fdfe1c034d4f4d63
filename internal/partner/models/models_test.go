package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	pkgerrors "accord/pkg/domain-errors"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    ConnectionState
		to      ConnectionState
		allowed bool
	}{
		{"happy path step", StateInvited, StateRequested, true},
		{"forward skip", StateInvited, StateActive, true},
		{"requested to responded", StateRequested, StateResponded, true},
		{"responded to active", StateResponded, StateActive, true},
		{"duplicate delivery is legal", StateActive, StateActive, true},
		{"any state may fail", StateResponded, StateError, true},
		{"error from active", StateActive, StateError, true},
		{"backward move", StateActive, StateRequested, false},
		{"backward to invited", StateResponded, StateInvited, false},
		{"no recovery from error", StateError, StateActive, false},
		{"error stays error", StateError, StateError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Partner{State: tt.from}
			err := p.CanTransitionTo(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition))
			}
		})
	}

	t.Run("unknown state rejected", func(t *testing.T) {
		p := &Partner{State: StateInvited}
		err := p.CanTransitionTo("frobnicated")
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
	})
}

func TestApplyTransition(t *testing.T) {
	now := time.Now()
	p := &Partner{State: StateInvited}
	p.ApplyTransition(StateRequested, now)
	assert.Equal(t, StateRequested, p.State)
	assert.Equal(t, now, p.UpdatedAt)
}

func TestCanRemove(t *testing.T) {
	for _, state := range []ConnectionState{StateInvited, StateActive, StateError} {
		p := &Partner{State: state}
		assert.NoError(t, p.CanRemove(), "removal from %s", state)
	}
	for _, state := range []ConnectionState{StateRequested, StateResponded} {
		p := &Partner{State: state}
		err := p.CanRemove()
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState), "removal from %s", state)
	}
}
