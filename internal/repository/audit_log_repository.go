package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

type AuditLogRepository struct {
	db *sql.DB
}

func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Save(ctx context.Context, entry *models.AuditLogEntry) (err error) {
	ctx, span, done := observe(ctx, "SaveAuditLog")
	defer func() { done(err) }()

	if entry == nil {
		err = pkgerrors.ErrNilAuditLogEntry
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	span.SetAttributes(
		attribute.String("transaction_id", entry.TransactionID.String()),
		attribute.String("status", string(entry.Status)),
	)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transaction_logs (id, transaction_id, status, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.TransactionID, entry.Status, entry.Message, entry.CreatedAt,
	)
	if err != nil {
		telemetry.Logger.Error("Failed to insert audit log entry",
			zap.String("transaction_id", entry.TransactionID.String()),
			zap.Error(err),
		)
		err = fmt.Errorf("failed to insert audit log entry: %w", err)
		return err
	}
	return nil
}

func (r *AuditLogRepository) FindByTransaction(ctx context.Context, transactionID uuid.UUID) (entries []models.AuditLogEntry, err error) {
	ctx, span, done := observe(ctx, "FindAuditLogs")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("transaction_id", transactionID.String()))

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, transaction_id, status, message, created_at FROM transaction_logs
		WHERE transaction_id = $1 ORDER BY created_at DESC`, transactionID)
	if err != nil {
		err = fmt.Errorf("failed to query audit log: %w", err)
		return nil, err
	}
	entries, err = scanEntries(rows)
	return entries, err
}

func (r *AuditLogRepository) FindByTransactionAndStatus(ctx context.Context, transactionID uuid.UUID, status models.Status) (entries []models.AuditLogEntry, err error) {
	ctx, span, done := observe(ctx, "FindAuditLogsByStatus")
	defer func() { done(err) }()
	span.SetAttributes(
		attribute.String("transaction_id", transactionID.String()),
		attribute.String("status", string(status)),
	)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, transaction_id, status, message, created_at FROM transaction_logs
		WHERE transaction_id = $1 AND status = $2 ORDER BY created_at DESC`, transactionID, status)
	if err != nil {
		err = fmt.Errorf("failed to query audit log: %w", err)
		return nil, err
	}
	entries, err = scanEntries(rows)
	return entries, err
}

func scanEntries(rows *sql.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	entries := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}
