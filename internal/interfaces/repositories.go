package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
)

// TransactionRepository defines the contract for payment transaction data access
type TransactionRepository interface {
	// Save inserts a transaction with Version 0 or updates it when the stored version
	// still equals tx.Version. On success tx.Version is incremented.
	Save(ctx context.Context, tx *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Transaction, error)
}

// AuditLogRepository defines the contract for the append-only audit log store
type AuditLogRepository interface {
	Save(ctx context.Context, entry *models.AuditLogEntry) error
	FindByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.AuditLogEntry, error)
	FindByTransactionAndStatus(ctx context.Context, transactionID uuid.UUID, status models.Status) ([]models.AuditLogEntry, error)
}

// CustomerDirectory answers whether a caller-supplied customer reference exists
type CustomerDirectory interface {
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
}

// EventPublisher publishes transaction state changes to downstream consumers
type EventPublisher interface {
	PublishStateChange(ctx context.Context, event models.StateChangeEvent) error
}

// Locker provides per-key mutual exclusion across gateway instances
type Locker interface {
	// Acquire returns a release func, or errors.ErrTransactionLocked when the key is held.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}
