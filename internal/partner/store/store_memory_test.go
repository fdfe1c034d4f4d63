package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/partner/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
	"accord/pkg/testutil"
)

func newPartner(did id.DID) *models.Partner {
	now := time.Now()
	return &models.Partner{
		ID:        id.NewPartnerID(),
		DID:       did,
		State:     models.StateInvited,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInMemorySaveAndLookups(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()

	partner := newPartner("did:sov:abc")
	partner.CorrelationID = "conn-1"
	require.NoError(t, st.Save(ctx, partner))

	byID, err := st.FindByID(ctx, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, partner.ID, byID.ID)

	byDID, err := st.FindByDID(ctx, "did:sov:abc")
	require.NoError(t, err)
	assert.Equal(t, partner.ID, byDID.ID)

	byCorr, err := st.FindByCorrelationID(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, partner.ID, byCorr.ID)

	t.Run("duplicate DID rejected", func(t *testing.T) {
		err := st.Save(ctx, newPartner("did:sov:abc"))
		assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	})

	t.Run("empty DID is not indexed", func(t *testing.T) {
		require.NoError(t, st.Save(ctx, newPartner("")))
		require.NoError(t, st.Save(ctx, newPartner("")))
	})
}

func TestInMemoryExecute(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()

	partner := newPartner("did:sov:abc")
	require.NoError(t, st.Save(ctx, partner))

	t.Run("validate failure leaves record untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := st.Execute(ctx, partner.ID,
			func(*models.Partner) error { return boom },
			func(p *models.Partner) { p.State = models.StateActive },
		)
		require.ErrorIs(t, err, boom)

		current, err := st.FindByID(ctx, partner.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateInvited, current.State)
	})

	t.Run("mutation commits and reindexes DID", func(t *testing.T) {
		updated, err := st.Execute(ctx, partner.ID,
			func(*models.Partner) error { return nil },
			func(p *models.Partner) { p.DID = "did:sov:changed" },
		)
		require.NoError(t, err)
		assert.Equal(t, id.DID("did:sov:changed"), updated.DID)

		_, err = st.FindByDID(ctx, "did:sov:abc")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		found, err := st.FindByDID(ctx, "did:sov:changed")
		require.NoError(t, err)
		assert.Equal(t, partner.ID, found.ID)
	})

	t.Run("DID collision on mutate rejected", func(t *testing.T) {
		other := newPartner("did:sov:other")
		require.NoError(t, st.Save(ctx, other))

		_, err := st.Execute(ctx, partner.ID,
			func(*models.Partner) error { return nil },
			func(p *models.Partner) { p.DID = "did:sov:other" },
		)
		assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	})
}

func TestInMemoryExecuteSerialized(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()

	partner := newPartner("did:sov:abc")
	require.NoError(t, st.Save(ctx, partner))

	// Each goroutine increments via read-modify-write inside Execute; the
	// store lock must make the sum exact.
	counter := 0
	result := testutil.RunConcurrent(32, func(int) error {
		_, err := st.Execute(ctx, partner.ID,
			func(*models.Partner) error { return nil },
			func(p *models.Partner) { counter++ },
		)
		return err
	})

	assert.Equal(t, int32(32), result.Successes)
	assert.Equal(t, 32, counter)
}

func TestInMemoryDelete(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()

	partner := newPartner("did:sov:abc")
	require.NoError(t, st.Save(ctx, partner))
	require.NoError(t, st.Delete(ctx, partner.ID))

	assert.ErrorIs(t, st.Delete(ctx, partner.ID), sentinel.ErrNotFound)
	_, err := st.FindByDID(ctx, "did:sov:abc")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// DID freed for reuse after delete.
	assert.NoError(t, st.Save(ctx, newPartner("did:sov:abc")))
}

func TestInMemoryListCreationOrder(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		p := newPartner(id.DID(""))
		p.CreatedAt = base.Add(time.Duration(2-i) * time.Second)
		p.Alias = string(rune('a' + i))
		require.NoError(t, st.Save(ctx, p))
	}

	partners, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, partners, 3)
	assert.Equal(t, "c", partners[0].Alias)
	assert.Equal(t, "a", partners[2].Alias)
}
