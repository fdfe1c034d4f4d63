package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	id "accord/pkg/domain"
)

// Stub is an in-process ProtocolAgent for tests and for running without a
// real agent. It hands out sequential correlation IDs and records outbound
// calls so tests can assert on them.
type Stub struct {
	mu       sync.Mutex
	seq      atomic.Int64
	Messages []string

	// Err, when set, is returned by every operation.
	Err error
}

// NewStub creates an empty stub agent.
func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) CreateInvitation(_ context.Context, label string) (*Invitation, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	n := s.seq.Add(1)
	return &Invitation{
		ConnectionID:  fmt.Sprintf("conn-corr-%d", n),
		InvitationURL: fmt.Sprintf("https://agent.local/invite?c_i=%d&label=%s", n, label),
	}, nil
}

func (s *Stub) InitiateCredentialRequest(_ context.Context, _ id.DID, _ string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("cred-corr-%d", s.seq.Add(1)), nil
}

func (s *Stub) InitiateProofRequest(_ context.Context, _ id.DID, _ ProofSpec) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("proof-corr-%d", s.seq.Add(1)), nil
}

func (s *Stub) SendMessage(_ context.Context, _ id.DID, content string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, content)
	return nil
}
