package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/trust/store"
	id "accord/pkg/domain"
	pkgerrors "accord/pkg/domain-errors"
	"accord/pkg/testutil"
)

const (
	testSchemaID = id.SchemaID("F6dB7dMVHUQSC64qemnBi7:2:bank_account:1.0")
	issuerOne    = id.DID("did:sov:issuer-one")
	issuerTwo    = id.DID("did:sov:issuer-two")
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.NewInMemory(), nil, logger)
}

func registerTestSchema(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.RegisterSchema(context.Background(), RegisterSchemaInput{
		SchemaID:   testSchemaID,
		Label:      "Bank Account",
		Attributes: []string{"iban", "bic"},
	})
	require.NoError(t, err)
}

func TestRegisterSchema(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	schema, err := svc.RegisterSchema(ctx, RegisterSchemaInput{
		SchemaID:   testSchemaID,
		Label:      "Bank Account",
		Attributes: []string{"iban", "bic"},
	})
	require.NoError(t, err)
	assert.Equal(t, testSchemaID, schema.ID)
	assert.False(t, schema.CreatedAt.IsZero())

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		_, err := svc.RegisterSchema(ctx, RegisterSchemaInput{
			SchemaID:   testSchemaID,
			Label:      "Bank Account Again",
			Attributes: []string{"iban"},
		})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	})

	t.Run("rejects empty attributes", func(t *testing.T) {
		_, err := svc.RegisterSchema(ctx, RegisterSchemaInput{
			SchemaID: id.SchemaID("other:2:empty:1.0"),
		})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
	})
}

func TestDeleteSchemaGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown schema", func(t *testing.T) {
		svc := newTestService()
		err := svc.DeleteSchema(ctx, testSchemaID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnknownSchema))
	})

	t.Run("blocked while a restriction references it", func(t *testing.T) {
		svc := newTestService()
		registerTestSchema(t, svc)
		restriction, err := svc.AddRestriction(ctx, testSchemaID, issuerOne, "Issuer One")
		require.NoError(t, err)

		err = svc.DeleteSchema(ctx, testSchemaID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeReferentialIntegrity))

		// Removing the restriction makes the schema deletable again.
		require.NoError(t, svc.RemoveRestriction(ctx, restriction.ID))
		assert.NoError(t, svc.DeleteSchema(ctx, testSchemaID))
	})

	t.Run("blocked while a credential definition references it", func(t *testing.T) {
		svc := newTestService()
		registerTestSchema(t, svc)
		def, err := svc.AddCredentialDefinition(ctx, AddCredentialDefinitionInput{
			SchemaID: testSchemaID,
			Tag:      "default",
		})
		require.NoError(t, err)

		err = svc.DeleteSchema(ctx, testSchemaID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeReferentialIntegrity))

		require.NoError(t, svc.DeleteCredentialDefinition(ctx, def.ID))
		assert.NoError(t, svc.DeleteSchema(ctx, testSchemaID))
	})
}

func TestCanDeleteSchema(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	registerTestSchema(t, svc)

	ok, err := svc.CanDeleteSchema(ctx, testSchemaID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.AddRestriction(ctx, testSchemaID, issuerOne, "")
	require.NoError(t, err)

	ok, err = svc.CanDeleteSchema(ctx, testSchemaID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddRestriction(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown schema", func(t *testing.T) {
		svc := newTestService()
		_, err := svc.AddRestriction(ctx, testSchemaID, issuerOne, "")
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnknownSchema))
	})

	t.Run("duplicate pair", func(t *testing.T) {
		svc := newTestService()
		registerTestSchema(t, svc)
		_, err := svc.AddRestriction(ctx, testSchemaID, issuerOne, "")
		require.NoError(t, err)

		_, err = svc.AddRestriction(ctx, testSchemaID, issuerOne, "again")
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateRestriction))
	})

	t.Run("same issuer on another schema is fine", func(t *testing.T) {
		svc := newTestService()
		registerTestSchema(t, svc)
		otherSchema := id.SchemaID("other:2:address:1.0")
		_, err := svc.RegisterSchema(ctx, RegisterSchemaInput{
			SchemaID:   otherSchema,
			Attributes: []string{"street"},
		})
		require.NoError(t, err)

		_, err = svc.AddRestriction(ctx, testSchemaID, issuerOne, "")
		require.NoError(t, err)
		_, err = svc.AddRestriction(ctx, otherSchema, issuerOne, "")
		assert.NoError(t, err)
	})
}

func TestAddRestrictionConcurrentDuplicate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	registerTestSchema(t, svc)

	successes, errs := testutil.RunConcurrentCollect(16, func(int) error {
		_, err := svc.AddRestriction(ctx, testSchemaID, issuerOne, "")
		return err
	})

	assert.Equal(t, int32(1), successes, "exactly one concurrent add may win")
	require.Len(t, errs, 15)
	for _, err := range errs {
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateRestriction))
	}

	restrictions, err := svc.ListRestrictions(ctx, testSchemaID)
	require.NoError(t, err)
	assert.Len(t, restrictions, 1)
}

func TestUpdateRestrictionLabel(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	registerTestSchema(t, svc)

	restriction, err := svc.AddRestriction(ctx, testSchemaID, issuerOne, "old")
	require.NoError(t, err)

	updated, err := svc.UpdateRestrictionLabel(ctx, restriction.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Label)
	assert.Equal(t, restriction.IssuerDID, updated.IssuerDID)

	_, err = svc.UpdateRestrictionLabel(ctx, id.NewRestrictionID(), "x")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestIsIssuerTrusted(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	registerTestSchema(t, svc)

	// No restrictions yet: open policy, any issuer passes.
	decision, err := svc.IsIssuerTrusted(ctx, testSchemaID, issuerTwo)
	require.NoError(t, err)
	assert.True(t, decision.Trusted)
	assert.Equal(t, PolicyOpen, decision.Policy)

	// First restriction flips the schema to an allow-list.
	restriction, err := svc.AddRestriction(ctx, testSchemaID, issuerOne, "")
	require.NoError(t, err)

	decision, err = svc.IsIssuerTrusted(ctx, testSchemaID, issuerOne)
	require.NoError(t, err)
	assert.True(t, decision.Trusted)
	assert.Equal(t, PolicyAllowList, decision.Policy)

	decision, err = svc.IsIssuerTrusted(ctx, testSchemaID, issuerTwo)
	require.NoError(t, err)
	assert.False(t, decision.Trusted)
	assert.Equal(t, PolicyAllowList, decision.Policy)

	// Removing the last restriction reopens the schema.
	require.NoError(t, svc.RemoveRestriction(ctx, restriction.ID))
	decision, err = svc.IsIssuerTrusted(ctx, testSchemaID, issuerTwo)
	require.NoError(t, err)
	assert.True(t, decision.Trusted)
	assert.Equal(t, PolicyOpen, decision.Policy)
}

func TestAddCredentialDefinition(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	registerTestSchema(t, svc)

	def, err := svc.AddCredentialDefinition(ctx, AddCredentialDefinitionInput{
		SchemaID:               testSchemaID,
		Tag:                    "revocable",
		SupportsRevocation:     true,
		RevocationRegistrySize: 1000,
	})
	require.NoError(t, err)
	assert.Contains(t, def.LedgerID, "revocable")

	t.Run("unknown schema", func(t *testing.T) {
		_, err := svc.AddCredentialDefinition(ctx, AddCredentialDefinitionInput{
			SchemaID: id.SchemaID("missing:2:x:1.0"),
			Tag:      "default",
		})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnknownSchema))
	})

	t.Run("revocation requires registry size", func(t *testing.T) {
		_, err := svc.AddCredentialDefinition(ctx, AddCredentialDefinitionInput{
			SchemaID:           testSchemaID,
			Tag:                "bad",
			SupportsRevocation: true,
		})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidInput))
	})

	defs, err := svc.ListCredentialDefinitions(ctx, testSchemaID)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestListRestrictionsUnknownSchema(t *testing.T) {
	svc := newTestService()
	_, err := svc.ListRestrictions(context.Background(), testSchemaID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnknownSchema))
}
