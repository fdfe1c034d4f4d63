package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accord/internal/exchange/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

func newExchange(partnerID id.PartnerID, correlationID string) *models.Exchange {
	now := time.Now()
	return &models.Exchange{
		ID:            id.NewExchangeID(),
		PartnerID:     partnerID,
		Kind:          models.KindCredential,
		Role:          models.RoleHolder,
		State:         models.StateProposed,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInMemorySaveAndLookups(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()
	partnerID := id.NewPartnerID()

	exchange := newExchange(partnerID, "cred-1")
	require.NoError(t, st.Save(ctx, exchange))

	byID, err := st.FindByID(ctx, exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, exchange.ID, byID.ID)

	byCorr, err := st.FindByCorrelationID(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, exchange.ID, byCorr.ID)

	t.Run("duplicate correlation id rejected", func(t *testing.T) {
		err := st.Save(ctx, newExchange(partnerID, "cred-1"))
		assert.ErrorIs(t, err, sentinel.ErrDuplicate)
	})

	t.Run("unknown lookups", func(t *testing.T) {
		_, err := st.FindByID(ctx, id.NewExchangeID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = st.FindByCorrelationID(ctx, "nope")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestInMemoryCopiesOnReadAndWrite(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()

	exchange := newExchange(id.NewPartnerID(), "cred-1")
	exchange.Claims = map[string]string{"name": "Alice"}
	require.NoError(t, st.Save(ctx, exchange))

	// Mutating the caller's copy or a returned copy must not leak into the
	// store.
	exchange.Claims["name"] = "Mallory"
	read, err := st.FindByID(ctx, exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", read.Claims["name"])

	read.Claims["name"] = "Eve"
	again, err := st.FindByID(ctx, exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Claims["name"])
}

func TestInMemoryPartnerQueries(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()
	partnerID := id.NewPartnerID()
	base := time.Now()

	open := newExchange(partnerID, "cred-open")
	open.DocumentID = "doc-1"
	open.CreatedAt = base

	done := newExchange(partnerID, "cred-done")
	done.State = models.StateComplete
	done.CreatedAt = base.Add(time.Second)

	other := newExchange(id.NewPartnerID(), "cred-other")

	for _, e := range []*models.Exchange{open, done, other} {
		require.NoError(t, st.Save(ctx, e))
	}

	all, err := st.ListByPartner(ctx, partnerID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, open.ID, all[0].ID, "creation order")

	openOnly, err := st.ListOpenByPartner(ctx, partnerID)
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, open.ID, openOnly[0].ID)

	found, err := st.FindOpenByPartnerAndDocument(ctx, partnerID, models.KindCredential, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, open.ID, found.ID)

	_, err = st.FindOpenByPartnerAndDocument(ctx, partnerID, models.KindCredential, "doc-2")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// A proof exchange with the same reference does not shadow the document.
	_, err = st.FindOpenByPartnerAndDocument(ctx, partnerID, models.KindProof, "doc-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	count, err := st.CountCompletedByPartner(ctx, partnerID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	t.Run("no exchanges yields empty slice", func(t *testing.T) {
		none, err := st.ListByPartner(ctx, id.NewPartnerID())
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestInMemoryExecute(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()

	exchange := newExchange(id.NewPartnerID(), "cred-1")
	require.NoError(t, st.Save(ctx, exchange))

	t.Run("validate failure leaves record untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := st.Execute(ctx, exchange.ID,
			func(*models.Exchange) error { return boom },
			func(e *models.Exchange) { e.State = models.StateComplete },
		)
		require.ErrorIs(t, err, boom)

		current, err := st.FindByID(ctx, exchange.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateProposed, current.State)
	})

	t.Run("mutation commits", func(t *testing.T) {
		updated, err := st.Execute(ctx, exchange.ID,
			func(*models.Exchange) error { return nil },
			func(e *models.Exchange) { e.State = models.StateOffered },
		)
		require.NoError(t, err)
		assert.Equal(t, models.StateOffered, updated.State)

		current, err := st.FindByID(ctx, exchange.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateOffered, current.State)
	})

	t.Run("by correlation id", func(t *testing.T) {
		updated, err := st.ExecuteByCorrelationID(ctx, "cred-1",
			func(*models.Exchange) error { return nil },
			func(e *models.Exchange) { e.State = models.StateInProgress },
		)
		require.NoError(t, err)
		assert.Equal(t, models.StateInProgress, updated.State)
	})

	t.Run("unknown correlation id", func(t *testing.T) {
		_, err := st.ExecuteByCorrelationID(ctx, "nope",
			func(*models.Exchange) error { return nil },
			func(*models.Exchange) {},
		)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
