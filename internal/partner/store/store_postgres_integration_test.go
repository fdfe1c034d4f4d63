//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/partner/models"
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

func testPartner(did id.DID, correlationID string) *models.Partner {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Partner{
		ID:            id.NewPartnerID(),
		DID:           did,
		Alias:         "Acme",
		State:         models.StateInvited,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgresPartnerLookups(t *testing.T) {
	st, ctx := newPostgresFixture(t)

	partner := testPartner(id.DID("did:sov:acme"), "conn-1")
	partner.Roles = []models.Role{models.RoleIssuer}
	require.NoError(t, st.Save(ctx, partner))

	byID, err := st.FindByID(ctx, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, partner.Alias, byID.Alias)
	assert.Equal(t, partner.Roles, byID.Roles)

	byDID, err := st.FindByDID(ctx, partner.DID)
	require.NoError(t, err)
	assert.Equal(t, partner.ID, byDID.ID)

	byCorrelation, err := st.FindByCorrelationID(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, partner.ID, byCorrelation.ID)

	_, err = st.FindByDID(ctx, id.DID("did:sov:unknown"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresPartnerDIDUnique(t *testing.T) {
	st, ctx := newPostgresFixture(t)

	require.NoError(t, st.Save(ctx, testPartner(id.DID("did:sov:acme"), "conn-1")))
	assert.ErrorIs(t, st.Save(ctx, testPartner(id.DID("did:sov:acme"), "conn-2")), sentinel.ErrDuplicate)

	// Partners without a DID do not collide with each other.
	require.NoError(t, st.Save(ctx, testPartner("", "conn-3")))
	require.NoError(t, st.Save(ctx, testPartner("", "conn-4")))
}

func TestPostgresPartnerExecute(t *testing.T) {
	st, ctx := newPostgresFixture(t)

	partner := testPartner("", "conn-1")
	require.NoError(t, st.Save(ctx, partner))

	now := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := st.Execute(ctx, partner.ID,
		func(p *models.Partner) error { return p.CanTransitionTo(models.StateActive) },
		func(p *models.Partner) {
			p.DID = id.DID("did:sov:learned")
			p.AddRole(models.RoleIssuer)
			p.ApplyTransition(models.StateActive, now)
		},
	)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, updated.State)

	persisted, err := st.FindByDID(ctx, id.DID("did:sov:learned"))
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, persisted.State)
	assert.Equal(t, []models.Role{models.RoleIssuer}, persisted.Roles)

	// A validate failure leaves the row untouched.
	_, err = st.Execute(ctx, partner.ID,
		func(p *models.Partner) error { return p.CanTransitionTo(models.StateRequested) },
		func(p *models.Partner) { p.ApplyTransition(models.StateRequested, now) },
	)
	require.Error(t, err)
	persisted, err = st.FindByID(ctx, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, persisted.State)
}

func TestPostgresPartnerExecuteDIDCollision(t *testing.T) {
	st, ctx := newPostgresFixture(t)

	require.NoError(t, st.Save(ctx, testPartner(id.DID("did:sov:taken"), "conn-1")))
	other := testPartner("", "conn-2")
	require.NoError(t, st.Save(ctx, other))

	_, err := st.Execute(ctx, other.ID,
		func(*models.Partner) error { return nil },
		func(p *models.Partner) { p.DID = id.DID("did:sov:taken") },
	)
	assert.ErrorIs(t, err, sentinel.ErrDuplicate)
}

func TestPostgresPartnerDelete(t *testing.T) {
	st, ctx := newPostgresFixture(t)

	partner := testPartner(id.DID("did:sov:acme"), "conn-1")
	require.NoError(t, st.Save(ctx, partner))
	require.NoError(t, st.Delete(ctx, partner.ID))

	_, err := st.FindByID(ctx, partner.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, st.Delete(ctx, partner.ID), sentinel.ErrNotFound)

	// The DID is reusable after deletion.
	require.NoError(t, st.Save(ctx, testPartner(id.DID("did:sov:acme"), "conn-2")))
}
