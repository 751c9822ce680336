// Package audit keeps the append-only history of every state transition attempt.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/interfaces"
	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
)

const (
	msgPending    = "Payment processing"
	msgAuthorized = "Payment authorized successfully"
	msgCaptured   = "Payment captured successfully"
)

type Service struct {
	repo interfaces.AuditLogRepository
	now  func() time.Time
}

func NewService(repo interfaces.AuditLogRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record appends an entry for transactionID and returns it.
func (s *Service) Record(ctx context.Context, transactionID uuid.UUID, status models.Status, message string) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Status:        status,
		Message:       message,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.Save(ctx, entry); err != nil {
		telemetry.Logger.Error("Failed to append audit entry",
			zap.String("transaction_id", transactionID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

func (s *Service) LogPending(ctx context.Context, transactionID uuid.UUID) (*models.AuditLogEntry, error) {
	return s.Record(ctx, transactionID, models.StatusPending, msgPending)
}

func (s *Service) LogAuthorization(ctx context.Context, transactionID uuid.UUID) (*models.AuditLogEntry, error) {
	return s.Record(ctx, transactionID, models.StatusAuthorized, msgAuthorized)
}

func (s *Service) LogCapture(ctx context.Context, transactionID uuid.UUID) (*models.AuditLogEntry, error) {
	return s.Record(ctx, transactionID, models.StatusCaptured, msgCaptured)
}

func (s *Service) LogRefund(ctx context.Context, transactionID uuid.UUID, amount decimal.Decimal) (*models.AuditLogEntry, error) {
	return s.Record(ctx, transactionID, models.StatusRefunded, fmt.Sprintf("Payment refunded in the amount of %s", amount.StringFixed(2)))
}

func (s *Service) LogFailure(ctx context.Context, transactionID uuid.UUID, reason string) (*models.AuditLogEntry, error) {
	return s.Record(ctx, transactionID, models.StatusFailed, "Payment failed: "+reason)
}

// LogOutcomeUnknown records a provider call whose result could not be determined. The
// entry carries the transaction's unchanged status so it stays out of FAILED filters.
func (s *Service) LogOutcomeUnknown(ctx context.Context, transactionID uuid.UUID, status models.Status, op, reason string) (*models.AuditLogEntry, error) {
	return s.Record(ctx, transactionID, status, fmt.Sprintf("Payment %s outcome unknown: %s", op, reason))
}

// List returns every entry for transactionID, newest first.
func (s *Service) List(ctx context.Context, transactionID uuid.UUID) ([]models.AuditLogEntry, error) {
	return s.repo.FindByTransaction(ctx, transactionID)
}

func (s *Service) ListByStatus(ctx context.Context, transactionID uuid.UUID, status models.Status) ([]models.AuditLogEntry, error) {
	return s.repo.FindByTransactionAndStatus(ctx, transactionID, status)
}
