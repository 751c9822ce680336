// Package memory holds in-process stores used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

// TransactionRepository keeps transactions in a map guarded by a mutex. It follows the
// same version check as the Postgres store.
type TransactionRepository struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]models.Transaction
	byProvider map[string]uuid.UUID
	now        func() time.Time
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		byID:       make(map[uuid.UUID]models.Transaction),
		byProvider: make(map[string]uuid.UUID),
		now:        time.Now,
	}
}

func (r *TransactionRepository) Save(ctx context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	stored, exists := r.byID[tx.ID]

	if tx.Version == 0 {
		if exists {
			return pkgerrors.ErrConcurrentUpdate
		}
		if tx.ID == uuid.Nil {
			tx.ID = uuid.New()
		}
		tx.CreatedAt = now
	} else {
		if !exists {
			return &pkgerrors.NotFoundError{TransactionID: tx.ID.String()}
		}
		if stored.Version != tx.Version {
			return pkgerrors.ErrConcurrentUpdate
		}
		tx.CreatedAt = stored.CreatedAt
	}

	if ref := tx.ProviderTxID(); ref != "" {
		if owner, taken := r.byProvider[ref]; taken && owner != tx.ID {
			return pkgerrors.ErrDuplicateProviderTransaction
		}
		r.byProvider[ref] = tx.ID
	}

	tx.Version++
	tx.UpdatedAt = now
	r.byID[tx.ID] = clone(tx)
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.byID[id]
	if !ok {
		return nil, &pkgerrors.NotFoundError{TransactionID: id.String()}
	}
	out := clone(&tx)
	return &out, nil
}

func (r *TransactionRepository) FindByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Transaction, error) {
	r.mu.RLock()
	id, ok := r.byProvider[providerTxID]
	r.mu.RUnlock()
	if !ok {
		return nil, &pkgerrors.NotFoundError{TransactionID: providerTxID}
	}
	return r.FindByID(ctx, id)
}

func clone(tx *models.Transaction) models.Transaction {
	out := *tx
	if tx.ProviderTransactionID != nil {
		v := *tx.ProviderTransactionID
		out.ProviderTransactionID = &v
	}
	if tx.ProviderCaptureID != nil {
		v := *tx.ProviderCaptureID
		out.ProviderCaptureID = &v
	}
	return out
}

// AuditLogRepository is an append-only slice of entries.
type AuditLogRepository struct {
	mu      sync.RWMutex
	entries []models.AuditLogEntry
}

func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (r *AuditLogRepository) Save(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry == nil {
		return pkgerrors.ErrNilAuditLogEntry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *AuditLogRepository) FindByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.AuditLogEntry, error) {
	return r.find(func(e models.AuditLogEntry) bool { return e.TransactionID == transactionID }), nil
}

func (r *AuditLogRepository) FindByTransactionAndStatus(ctx context.Context, transactionID uuid.UUID, status models.Status) ([]models.AuditLogEntry, error) {
	return r.find(func(e models.AuditLogEntry) bool {
		return e.TransactionID == transactionID && e.Status == status
	}), nil
}

// find returns matching entries newest first. Entries with equal timestamps keep
// reverse insertion order.
func (r *AuditLogRepository) find(match func(models.AuditLogEntry) bool) []models.AuditLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AuditLogEntry, 0)
	for i := len(r.entries) - 1; i >= 0; i-- {
		if match(r.entries[i]) {
			out = append(out, r.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
