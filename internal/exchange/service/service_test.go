package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/agent"
	"accord/internal/exchange/models"
	"accord/internal/exchange/store"
	partnermodels "accord/internal/partner/models"
	partnerservice "accord/internal/partner/service"
	partnerstore "accord/internal/partner/store"
	trustservice "accord/internal/trust/service"
	truststore "accord/internal/trust/store"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
)

const (
	exchangeSchemaID = id.SchemaID("F6dB7dMVHUQSC64qemnBi7:2:bank_account:1.0")
	trustedIssuer    = id.DID("did:sov:trusted-issuer")
	untrustedIssuer  = id.DID("did:sov:untrusted-issuer")
	activeDID        = id.DID("did:sov:active-partner")
)

type fixture struct {
	svc      *Service
	partners *partnerservice.Service
	trust    *trustservice.Service
	agent    *agent.Stub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := agent.NewStub()

	partners := partnerservice.NewService(partnerstore.NewInMemory(), stub, nil, logger)
	trust := trustservice.NewService(truststore.NewInMemory(), nil, logger)
	svc := NewService(store.NewInMemory(), partners, trust, stub, nil, logger)
	partners.BindExchanges(svc)

	return &fixture{svc: svc, partners: partners, trust: trust, agent: stub}
}

func (f *fixture) activePartner(t *testing.T) id.PartnerID {
	t.Helper()
	partner, err := f.partners.AddViaDID(context.Background(), activeDID, "Acme")
	require.NoError(t, err)
	return partner.ID
}

func TestRequestCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("creates proposed exchange", func(t *testing.T) {
		f := newFixture(t)
		partnerID := f.activePartner(t)

		exchange, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
		require.NoError(t, err)
		assert.Equal(t, models.KindCredential, exchange.Kind)
		assert.Equal(t, models.RoleHolder, exchange.Role)
		assert.Equal(t, models.StateProposed, exchange.State)
		assert.NotEmpty(t, exchange.CorrelationID)
	})

	t.Run("partner must be active", func(t *testing.T) {
		f := newFixture(t)
		partner, err := f.partners.UpsertFromInboundEvent(ctx, agent.InboundEvent{
			PartnerDID: activeDID, NewState: "requested",
		})
		require.NoError(t, err)

		_, err = f.svc.RequestCredential(ctx, partner.ID, "doc-1", exchangeSchemaID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
	})

	t.Run("one live exchange per document", func(t *testing.T) {
		f := newFixture(t)
		partnerID := f.activePartner(t)

		_, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
		require.NoError(t, err)

		_, err = f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

		// A different document is fine.
		_, err = f.svc.RequestCredential(ctx, partnerID, "doc-2", exchangeSchemaID)
		assert.NoError(t, err)
	})

	t.Run("unknown partner", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RequestCredential(ctx, id.NewPartnerID(), "doc-1", exchangeSchemaID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	})
}

func TestRequestProof(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	exchange, err := f.svc.RequestProof(ctx, partnerID, agent.ProofSpec{
		Name:           "bank-check",
		SchemaID:       exchangeSchemaID,
		AttributeNames: []string{"iban"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindProof, exchange.Kind)
	assert.Equal(t, models.RoleVerifier, exchange.Role)
	assert.Equal(t, models.StateProposed, exchange.State)

	_, err = f.svc.RequestProof(ctx, partnerID, agent.ProofSpec{Name: "empty"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
}

func TestRequestProofOpenGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	spec := agent.ProofSpec{
		Name:           "bank-check",
		SchemaID:       exchangeSchemaID,
		AttributeNames: []string{"iban"},
	}
	first, err := f.svc.RequestProof(ctx, partnerID, spec)
	require.NoError(t, err)

	_, err = f.svc.RequestProof(ctx, partnerID, spec)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "one live proof per reference")

	t.Run("different reference is fine", func(t *testing.T) {
		_, err := f.svc.RequestProof(ctx, partnerID, agent.ProofSpec{
			Name:           "address-check",
			AttributeNames: []string{"street"},
		})
		assert.NoError(t, err)
	})

	t.Run("unnamed spec falls back to schema", func(t *testing.T) {
		unnamed := agent.ProofSpec{SchemaID: id.SchemaID("other-schema"), AttributeNames: []string{"bic"}}
		_, err := f.svc.RequestProof(ctx, partnerID, unnamed)
		require.NoError(t, err)
		_, err = f.svc.RequestProof(ctx, partnerID, unnamed)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	})

	t.Run("re-initiation allowed once terminal", func(t *testing.T) {
		_, err := f.svc.Decline(ctx, first.ID, "expired")
		require.NoError(t, err)
		_, err = f.svc.RequestProof(ctx, partnerID, spec)
		assert.NoError(t, err)
	})
}

func TestPartnerRolesFromExchanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	partner, err := f.partners.Get(ctx, partnerID)
	require.NoError(t, err)
	assert.Empty(t, partner.Roles)

	_, err = f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
	require.NoError(t, err)

	partner, err = f.partners.Get(ctx, partnerID)
	require.NoError(t, err)
	assert.True(t, partner.HasRole(partnermodels.RoleIssuer), "asked to issue, so an issuer")

	_, err = f.svc.RequestProof(ctx, partnerID, agent.ProofSpec{
		Name:           "bank-check",
		AttributeNames: []string{"iban"},
	})
	require.NoError(t, err)

	partner, err = f.partners.Get(ctx, partnerID)
	require.NoError(t, err)
	assert.True(t, partner.HasRole(partnermodels.RoleIssuer), "roles accumulate")
	assert.True(t, partner.HasRole(partnermodels.RoleHolder), "asked to present, so a holder")
}

func TestDecline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	exchange, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
	require.NoError(t, err)

	declined, err := f.svc.Decline(ctx, exchange.ID, "not interested")
	require.NoError(t, err)
	assert.Equal(t, models.StateDeclined, declined.State)
	assert.Equal(t, "not interested", declined.DeclineReason)

	_, err = f.svc.Decline(ctx, exchange.ID, "again")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeIllegalTransition), "terminal states absorb")
}

func TestCancelOpenByPartner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	first, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
	require.NoError(t, err)
	_, err = f.svc.RequestProof(ctx, partnerID, agent.ProofSpec{AttributeNames: []string{"iban"}})
	require.NoError(t, err)

	// One of them finishes first; cancellation must skip it.
	_, err = f.svc.Decline(ctx, first.ID, "done")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOpenByPartner(ctx, partnerID, models.ReasonPartnerRemoved)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	exchanges, err := f.svc.ListByPartner(ctx, partnerID)
	require.NoError(t, err)
	for _, exchange := range exchanges {
		assert.False(t, exchange.IsOpen())
	}
}

func TestPartnerRemovalCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	_, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
	require.NoError(t, err)

	require.NoError(t, f.partners.Remove(ctx, partnerID))

	exchanges, err := f.svc.ListByPartner(ctx, partnerID)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	assert.Equal(t, models.StateAbandoned, exchanges[0].State)
	assert.Equal(t, models.ReasonPartnerRemoved, exchanges[0].DeclineReason)
}

func TestListPartnerCredentialsAndProofs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	credentials, err := f.svc.ListPartnerCredentials(ctx, partnerID)
	require.NoError(t, err)
	assert.NotNil(t, credentials, "empty list, never nil")
	assert.Empty(t, credentials)

	exchange, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
	require.NoError(t, err)
	completeCredential(t, f, exchange.CorrelationID)

	credentials, err = f.svc.ListPartnerCredentials(ctx, partnerID)
	require.NoError(t, err)
	require.Len(t, credentials, 1)
	assert.Equal(t, "doc-1", credentials[0].DocumentID)

	proofs, err := f.svc.ListPartnerProofs(ctx, partnerID)
	require.NoError(t, err)
	assert.Empty(t, proofs, "completed credentials do not leak into proofs")
}

func TestHasCompletedByPartner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	partnerID := f.activePartner(t)

	completed, err := f.svc.HasCompletedByPartner(ctx, partnerID)
	require.NoError(t, err)
	assert.False(t, completed)

	exchange, err := f.svc.RequestCredential(ctx, partnerID, "doc-1", exchangeSchemaID)
	require.NoError(t, err)
	completeCredential(t, f, exchange.CorrelationID)

	completed, err = f.svc.HasCompletedByPartner(ctx, partnerID)
	require.NoError(t, err)
	assert.True(t, completed)
}
