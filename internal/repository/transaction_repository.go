package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

const uniqueViolation = "23505"

const transactionColumns = `id, provider, provider_transaction_id, provider_capture_id, amount, refunded_amount,
	currency, status, payment_method, description, customer_id, metadata, raw_response, error_message,
	version, created_at, updated_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// InitDB creates the gateway tables when they are missing.
func InitDB(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			provider VARCHAR(20) NOT NULL,
			provider_transaction_id VARCHAR(255),
			provider_capture_id VARCHAR(255),
			amount NUMERIC(12, 2) NOT NULL,
			refunded_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
			currency CHAR(3) NOT NULL,
			status VARCHAR(20) NOT NULL,
			payment_method VARCHAR(255) NOT NULL,
			description VARCHAR(255) NOT NULL DEFAULT '',
			customer_id VARCHAR(100) NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			raw_response TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_provider_tx ON transactions(provider_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)`,
		`CREATE TABLE IF NOT EXISTS transaction_logs (
			id UUID PRIMARY KEY,
			transaction_id UUID NOT NULL REFERENCES transactions(id),
			status VARCHAR(20) NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transaction_logs_tx ON transaction_logs(transaction_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id UUID PRIMARY KEY,
			external_id VARCHAR(100) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

// Save inserts tx when its Version is zero. Otherwise it updates the mutable columns
// only if the stored version still matches, and bumps the version.
func (r *TransactionRepository) Save(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, span, done := observe(ctx, "SaveTransaction")
	defer func() { done(err) }()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		return err
	}
	span.SetAttributes(
		attribute.String("transaction_id", tx.ID.String()),
		attribute.String("status", string(tx.Status)),
		attribute.Int64("version", tx.Version),
	)

	if tx.Version == 0 {
		err = r.insert(ctx, tx)
	} else {
		err = r.update(ctx, tx)
	}
	return err
}

func (r *TransactionRepository) insert(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	query := `INSERT INTO transactions (id, provider, provider_transaction_id, provider_capture_id, amount, refunded_amount,
		currency, status, payment_method, description, customer_id, metadata, raw_response, error_message, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)
		RETURNING created_at, updated_at`

	var createdAt, updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		tx.ID, tx.Provider, nullString(tx.ProviderTransactionID), nullString(tx.ProviderCaptureID),
		tx.Amount, tx.RefundedAmount, tx.Currency, tx.Status, tx.PaymentMethod, tx.Description,
		tx.CustomerID, tx.Metadata, tx.RawResponse, tx.ErrorMessage,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrDuplicateProviderTransaction
		}
		telemetry.Logger.Error("Failed to insert transaction",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	tx.Version = 1
	tx.CreatedAt = createdAt
	tx.UpdatedAt = updatedAt
	return nil
}

func (r *TransactionRepository) update(ctx context.Context, tx *models.Transaction) error {
	query := `UPDATE transactions
		SET provider_transaction_id = $1, provider_capture_id = $2, refunded_amount = $3, status = $4,
			raw_response = $5, error_message = $6, version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8
		RETURNING version, updated_at`

	var version int64
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		nullString(tx.ProviderTransactionID), nullString(tx.ProviderCaptureID), tx.RefundedAmount, tx.Status,
		tx.RawResponse, tx.ErrorMessage, tx.ID, tx.Version,
	).Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		telemetry.Logger.Warn("Transaction version changed before update",
			zap.String("transaction_id", tx.ID.String()),
			zap.Int64("version", tx.Version),
		)
		return pkgerrors.ErrConcurrentUpdate
	}
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrDuplicateProviderTransaction
		}
		telemetry.Logger.Error("Failed to update transaction",
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	tx.Version = version
	tx.UpdatedAt = updatedAt
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (tx *models.Transaction, err error) {
	ctx, span, done := observe(ctx, "FindTransactionByID")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("transaction_id", id.String()))

	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err = scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = &pkgerrors.NotFoundError{TransactionID: id.String()}
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to get transaction by id: %w", err)
		return nil, err
	}
	return tx, nil
}

func (r *TransactionRepository) FindByProviderTransactionID(ctx context.Context, providerTxID string) (tx *models.Transaction, err error) {
	ctx, span, done := observe(ctx, "FindTransactionByProviderID")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("provider_transaction_id", providerTxID))

	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE provider_transaction_id = $1`, providerTxID)
	tx, err = scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = &pkgerrors.NotFoundError{TransactionID: providerTxID}
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to get transaction by provider id: %w", err)
		return nil, err
	}
	return tx, nil
}

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var providerTxID, captureID sql.NullString
	err := row.Scan(
		&tx.ID, &tx.Provider, &providerTxID, &captureID, &tx.Amount, &tx.RefundedAmount,
		&tx.Currency, &tx.Status, &tx.PaymentMethod, &tx.Description, &tx.CustomerID, &tx.Metadata,
		&tx.RawResponse, &tx.ErrorMessage, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerTxID.Valid {
		tx.ProviderTransactionID = &providerTxID.String
	}
	if captureID.Valid {
		tx.ProviderCaptureID = &captureID.String
	}
	return &tx, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// isUniqueViolation recognizes the unique-constraint error from either registered driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// observe starts a span for a repository method and returns a func that records the
// outcome on the span and in the repository metrics.
func observe(ctx context.Context, method string) (context.Context, trace.Span, func(error)) {
	ctx, span := telemetry.Tracer.Start(ctx, method)
	start := time.Now()
	return ctx, span, func(err error) {
		status := "success"
		if err != nil && !errors.Is(err, pkgerrors.ErrTransactionNotFound) {
			status = "error"
		}
		telemetry.RepositoryCalls.WithLabelValues(method, status).Inc()
		telemetry.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		telemetry.EndSpan(span, err)
	}
}
