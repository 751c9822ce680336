package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

func newTx() *models.Transaction {
	return &models.Transaction{
		ID:       uuid.New(),
		Provider: models.ProviderCielo,
		Amount:   decimal.RequireFromString("100.00"),
		Currency: "BRL",
		Status:   models.StatusPending,
	}
}

func TestTransactionRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository()

	tx := newTx()
	require.NoError(t, repo.Save(ctx, tx))
	assert.Equal(t, int64(1), tx.Version)
	assert.False(t, tx.CreatedAt.IsZero())

	ref := "pay-1"
	tx.ProviderTransactionID = &ref
	tx.Status = models.StatusAuthorized
	require.NoError(t, repo.Save(ctx, tx))
	assert.Equal(t, int64(2), tx.Version)

	got, err := repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAuthorized, got.Status)
	assert.Equal(t, "pay-1", got.ProviderTxID())

	byRef, err := repo.FindByProviderTransactionID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byRef.ID)

	*got.ProviderTransactionID = "mutated"
	again, err := repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", again.ProviderTxID())
}

func TestTransactionRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository()

	assert.ErrorIs(t, repo.Save(ctx, nil), pkgerrors.ErrNilTransaction)

	_, err := repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)

	_, err = repo.FindByProviderTransactionID(ctx, "missing")
	assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)

	t.Run("stale version is rejected", func(t *testing.T) {
		tx := newTx()
		require.NoError(t, repo.Save(ctx, tx))

		stale, err := repo.FindByID(ctx, tx.ID)
		require.NoError(t, err)

		tx.Status = models.StatusAuthorized
		require.NoError(t, repo.Save(ctx, tx))

		stale.Status = models.StatusFailed
		assert.ErrorIs(t, repo.Save(ctx, stale), pkgerrors.ErrConcurrentUpdate)

		current, err := repo.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAuthorized, current.Status)
	})

	t.Run("provider transaction id is unique", func(t *testing.T) {
		ref := "dup-1"
		first := newTx()
		first.ProviderTransactionID = &ref
		require.NoError(t, repo.Save(ctx, first))

		second := newTx()
		second.ProviderTransactionID = &ref
		assert.ErrorIs(t, repo.Save(ctx, second), pkgerrors.ErrDuplicateProviderTransaction)
	})
}

func TestTransactionRepository_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository()

	tx := newTx()
	require.NoError(t, repo.Save(ctx, tx))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loaded, err := repo.FindByID(ctx, tx.ID)
			if err != nil {
				return
			}
			if loaded.Version != 1 {
				return
			}
			loaded.Status = models.StatusAuthorized
			if repo.Save(ctx, loaded) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestAuditLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditLogRepository()
	txID := uuid.New()
	other := uuid.New()
	base := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)

	entries := []models.AuditLogEntry{
		{TransactionID: txID, Status: models.StatusPending, Message: "Payment processing", CreatedAt: base},
		{TransactionID: txID, Status: models.StatusAuthorized, Message: "Payment authorized successfully", CreatedAt: base.Add(time.Second)},
		{TransactionID: other, Status: models.StatusPending, Message: "Payment processing", CreatedAt: base},
		{TransactionID: txID, Status: models.StatusCaptured, Message: "Payment captured successfully", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range entries {
		require.NoError(t, repo.Save(ctx, &entries[i]))
		assert.NotEqual(t, uuid.Nil, entries[i].ID)
	}

	all, err := repo.FindByTransaction(ctx, txID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.StatusCaptured, all[0].Status)
	assert.Equal(t, models.StatusAuthorized, all[1].Status)
	assert.Equal(t, models.StatusPending, all[2].Status)

	pending, err := repo.FindByTransactionAndStatus(ctx, txID, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, txID, pending[0].TransactionID)

	none, err := repo.FindByTransaction(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.ErrorIs(t, repo.Save(ctx, nil), pkgerrors.ErrNilAuditLogEntry)
}
