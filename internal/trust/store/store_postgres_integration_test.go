//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/trust/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
	"accord/pkg/testutil/containers"
)

func newPostgresFixture(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	ctx := context.Background()
	pc := containers.GetManager().GetPostgres(t)
	require.NoError(t, pc.TruncateModuleTables(ctx))
	return NewPostgres(pc.DB), ctx
}

func testSchema(schemaID id.SchemaID) *models.Schema {
	return &models.Schema{
		ID:         schemaID,
		Label:      "Bank Account",
		Attributes: []string{"iban", "bic"},
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresSchemaRoundtrip(t *testing.T) {
	st, ctx := newPostgresFixture(t)

	schema := testSchema("sch-1")
	require.NoError(t, st.SaveSchema(ctx, schema))

	found, err := st.FindSchema(ctx, schema.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.Label, found.Label)
	assert.Equal(t, schema.Attributes, found.Attributes)

	require.NoError(t, st.SaveSchema(ctx, testSchema("sch-2")))
	list, err := st.ListSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.ErrorIs(t, st.SaveSchema(ctx, testSchema("sch-1")), sentinel.ErrDuplicate)

	_, err = st.FindSchema(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresRestrictionUniquePair(t *testing.T) {
	st, ctx := newPostgresFixture(t)
	require.NoError(t, st.SaveSchema(ctx, testSchema("sch-1")))

	restriction := &models.TrustedIssuerRestriction{
		ID:        id.NewRestrictionID(),
		SchemaID:  "sch-1",
		IssuerDID: id.DID("did:sov:issuer"),
		Label:     "Main issuer",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, st.AddRestriction(ctx, restriction))

	dup := *restriction
	dup.ID = id.NewRestrictionID()
	assert.ErrorIs(t, st.AddRestriction(ctx, &dup), sentinel.ErrDuplicate)

	count, err := st.CountRestrictions(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	updated, err := st.UpdateRestrictionLabel(ctx, restriction.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Label)

	require.NoError(t, st.DeleteRestriction(ctx, restriction.ID))
	count, err = st.CountRestrictions(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The pair is free again after deletion.
	assert.NoError(t, st.AddRestriction(ctx, &dup))
}

func TestPostgresCredentialDefinitions(t *testing.T) {
	st, ctx := newPostgresFixture(t)
	require.NoError(t, st.SaveSchema(ctx, testSchema("sch-1")))

	def := &models.CredentialDefinition{
		ID:                 id.NewCredentialDefinitionID(),
		SchemaID:           "sch-1",
		LedgerID:           "sch-1:3:CL:default",
		Tag:                "default",
		SupportsRevocation: true,

		RevocationRegistrySize: 1000,
		CreatedAt:              time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, st.SaveCredentialDefinition(ctx, def))

	defs, err := st.ListCredentialDefinitionsBySchema(ctx, "sch-1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, def.LedgerID, defs[0].LedgerID)
	assert.True(t, defs[0].SupportsRevocation)

	count, err := st.CountCredentialDefinitions(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, st.DeleteCredentialDefinition(ctx, def.ID))
	assert.ErrorIs(t, st.DeleteCredentialDefinition(ctx, def.ID), sentinel.ErrNotFound)
}
