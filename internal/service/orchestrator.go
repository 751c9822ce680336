package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/audit"
	"github.com/akylbek/payment-system/payment-gateway/internal/interfaces"
	"github.com/akylbek/payment-system/payment-gateway/internal/lock"
	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	"github.com/akylbek/payment-system/payment-gateway/internal/provider"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
	"github.com/akylbek/payment-system/payment-gateway/internal/validation"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

// Orchestrator drives a transaction through authorize, capture and refund. Every
// state change is persisted, then audited, then published.
type Orchestrator struct {
	transactions interfaces.TransactionRepository
	audit        *audit.Service
	providers    *provider.Registry
	validator    *validation.Validator
	locker       interfaces.Locker
	publisher    interfaces.EventPublisher
	now          func() time.Time
}

func NewOrchestrator(
	transactions interfaces.TransactionRepository,
	auditService *audit.Service,
	providers *provider.Registry,
	validator *validation.Validator,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		transactions: transactions,
		audit:        auditService,
		providers:    providers,
		validator:    validator,
		locker:       locker,
		publisher:    publisher,
		now:          time.Now,
	}
}

// Authorize validates req, records a PENDING transaction and asks the provider to
// reserve the funds. A validation failure stores nothing.
func (o *Orchestrator) Authorize(ctx context.Context, req *models.PaymentRequest) (result *models.PaymentResult, err error) {
	ctx, op := o.observe(ctx, "authorize", req.Provider)
	defer func() { op.done(err) }()

	if err = o.validator.ValidatePaymentRequest(ctx, req); err != nil {
		return nil, err
	}

	adapter, err := o.providers.Adapter(req.Provider)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:            uuid.New(),
		Provider:      adapter.Name(),
		Amount:        *req.Amount,
		Currency:      normalizeCurrency(req.Currency),
		Status:        models.StatusPending,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
		CustomerID:    req.CustomerID,
		Metadata:      req.Metadata,
	}
	op.span.SetAttributes(attribute.String("transaction_id", tx.ID.String()))

	if err = o.transactions.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}
	if _, err = o.audit.LogPending(ctx, tx.ID); err != nil {
		return nil, err
	}
	o.publish(ctx, tx, "")

	res, err := adapter.Authorize(ctx, provider.AuthorizeRequest{
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		PaymentMethod: tx.PaymentMethod,
		Description:   tx.Description,
		CustomerID:    tx.CustomerID,
	})
	if err != nil {
		err = o.handleProviderFailure(ctx, tx, "authorization", err, true)
		return nil, err
	}

	providerTxID := res.ProviderTransactionID
	tx.ProviderTransactionID = &providerTxID
	tx.RawResponse = res.RawResponse
	tx.Status = models.StatusAuthorized
	if err = o.transactions.Save(ctx, tx); err != nil {
		telemetry.Logger.Error("Authorized payment could not be stored",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("provider", string(tx.Provider)),
			zap.String("provider_transaction_id", providerTxID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to store authorization: %w", err)
	}
	o.record(tx.ID, func() (*models.AuditLogEntry, error) { return o.audit.LogAuthorization(ctx, tx.ID) })
	o.publish(ctx, tx, models.StatusPending)

	telemetry.Logger.Info("Payment authorized",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider", string(tx.Provider)),
		zap.String("amount", tx.Amount.StringFixed(2)),
		zap.String("currency", tx.Currency),
	)
	return withAmount(models.NewPaymentResult(tx), res.Amount), nil
}

// Capture settles a previously authorized transaction.
func (o *Orchestrator) Capture(ctx context.Context, id uuid.UUID) (result *models.PaymentResult, err error) {
	ctx, op := o.observe(ctx, "capture", "")
	defer func() { op.done(err) }()
	op.span.SetAttributes(attribute.String("transaction_id", id.String()))

	release, err := o.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := o.transactions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	op.setProvider(string(tx.Provider))

	if tx.Status != models.StatusAuthorized {
		err = &pkgerrors.InvalidTransitionError{TransactionID: id.String(), From: string(tx.Status), To: string(models.StatusCaptured)}
		return nil, err
	}

	adapter, err := o.providers.Adapter(string(tx.Provider))
	if err != nil {
		return nil, err
	}

	res, err := adapter.Capture(ctx, tx.ProviderTxID())
	if err != nil {
		err = o.handleProviderFailure(ctx, tx, "capture", err, true)
		return nil, err
	}

	if res.ProviderTransactionID != "" && res.ProviderTransactionID != tx.ProviderTxID() {
		captureID := res.ProviderTransactionID
		tx.ProviderCaptureID = &captureID
	}
	tx.RawResponse = res.RawResponse
	tx.Status = models.StatusCaptured
	if err = o.transactions.Save(ctx, tx); err != nil {
		telemetry.Logger.Error("Captured payment could not be stored",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("provider", string(tx.Provider)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to store capture: %w", err)
	}
	o.record(tx.ID, func() (*models.AuditLogEntry, error) { return o.audit.LogCapture(ctx, tx.ID) })
	o.publish(ctx, tx, models.StatusAuthorized)

	telemetry.Logger.Info("Payment captured",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider", string(tx.Provider)),
	)
	return withAmount(models.NewPaymentResult(tx), res.Amount), nil
}

// Refund returns amount to the payer. It is allowed on authorized and captured
// transactions, up to the amount not yet refunded.
func (o *Orchestrator) Refund(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (result *models.PaymentResult, err error) {
	ctx, op := o.observe(ctx, "refund", "")
	defer func() { op.done(err) }()
	op.span.SetAttributes(
		attribute.String("transaction_id", id.String()),
		attribute.String("amount", amount.String()),
	)

	release, err := o.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := o.transactions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	op.setProvider(string(tx.Provider))

	if !tx.Status.CanTransitionTo(models.StatusRefunded) ||
		(tx.Provider.RefundsRequireCapture() && tx.Status != models.StatusCaptured) {
		err = &pkgerrors.InvalidTransitionError{TransactionID: id.String(), From: string(tx.Status), To: string(models.StatusRefunded)}
		return nil, err
	}
	if err = validation.ValidateRefundAmount(tx, amount); err != nil {
		return nil, err
	}

	adapter, err := o.providers.Adapter(string(tx.Provider))
	if err != nil {
		return nil, err
	}

	res, err := adapter.Refund(ctx, tx.RefundReference(), amount, tx.Currency)
	if err != nil {
		err = o.handleProviderFailure(ctx, tx, "refund", err, false)
		return nil, err
	}

	previous := tx.Status
	tx.RefundedAmount = tx.RefundedAmount.Add(amount)
	tx.RawResponse = res.RawResponse
	tx.Status = models.StatusRefunded
	if err = o.transactions.Save(ctx, tx); err != nil {
		telemetry.Logger.Error("Refunded payment could not be stored",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("provider", string(tx.Provider)),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to store refund: %w", err)
	}
	o.record(tx.ID, func() (*models.AuditLogEntry, error) { return o.audit.LogRefund(ctx, tx.ID, amount) })
	o.publish(ctx, tx, previous)

	telemetry.Logger.Info("Payment refunded",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider", string(tx.Provider)),
		zap.String("amount", amount.StringFixed(2)),
	)
	result = models.NewPaymentResult(tx)
	result.Amount = amount
	return result, nil
}

func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*models.PaymentResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Orchestrator.Get")
	span.SetAttributes(attribute.String("transaction_id", id.String()))

	tx, err := o.transactions.FindByID(ctx, id)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return models.NewPaymentResult(tx), nil
}

func (o *Orchestrator) ListAuditLog(ctx context.Context, id uuid.UUID) ([]models.AuditLogEntry, error) {
	return o.audit.List(ctx, id)
}

func (o *Orchestrator) ListAuditLogByStatus(ctx context.Context, id uuid.UUID, status models.Status) ([]models.AuditLogEntry, error) {
	return o.audit.ListByStatus(ctx, id, status)
}

// handleProviderFailure records a failed provider call and returns the error to hand
// back to the caller. A rejection moves the transaction to FAILED when failOnReject
// is set; an unknown outcome never changes the stored transaction.
func (o *Orchestrator) handleProviderFailure(ctx context.Context, tx *models.Transaction, op string, cause error, failOnReject bool) error {
	var perr *pkgerrors.ProviderError
	if !errors.As(cause, &perr) {
		perr = pkgerrors.Ambiguous(string(tx.Provider), op, 0, cause)
	}
	perr.TransactionID = tx.ID.String()

	logFields := []zap.Field{
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider", string(tx.Provider)),
		zap.String("operation", op),
		zap.Error(perr),
	}

	if perr.Kind == pkgerrors.KindAmbiguous {
		telemetry.Logger.Warn("Payment outcome unknown", logFields...)
		o.record(tx.ID, func() (*models.AuditLogEntry, error) {
			return o.audit.LogOutcomeUnknown(ctx, tx.ID, tx.Status, op, perr.Error())
		})
		return perr
	}

	telemetry.Logger.Warn("Payment rejected by provider", logFields...)
	var storeErr error
	previous := tx.Status
	if failOnReject {
		tx.Status = models.StatusFailed
		tx.ErrorMessage = perr.Error()
		if storeErr = o.transactions.Save(ctx, tx); storeErr != nil {
			telemetry.Logger.Error("Failed to store rejection", append(logFields, zap.NamedError("store_error", storeErr))...)
		}
	}
	o.record(tx.ID, func() (*models.AuditLogEntry, error) {
		return o.audit.LogFailure(ctx, tx.ID, fmt.Sprintf("%s rejected: %v", op, perr.Cause))
	})
	if failOnReject && storeErr == nil {
		o.publish(ctx, tx, previous)
	}
	return perr
}

// acquire takes the per-transaction lock and returns its release func.
func (o *Orchestrator) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	key := lock.Key(id.String())
	release, err := o.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(ctx); err != nil {
			telemetry.Logger.Warn("Failed to release transaction lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// record appends an audit entry after a transition is already stored. The transition
// stands even when the append fails.
func (o *Orchestrator) record(id uuid.UUID, appendEntry func() (*models.AuditLogEntry, error)) {
	if _, err := appendEntry(); err != nil {
		telemetry.Logger.Error("Transition stored without audit entry",
			zap.String("transaction_id", id.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, tx *models.Transaction, previous models.Status) {
	event := models.StateChangeEvent{
		TransactionID: tx.ID.String(),
		Provider:      string(tx.Provider),
		State:         tx.Status,
		PreviousState: previous,
		Amount:        tx.Amount.StringFixed(2),
		Currency:      tx.Currency,
		Timestamp:     o.now().UTC(),
	}
	if err := o.publisher.PublishStateChange(ctx, event); err != nil {
		telemetry.Logger.Warn("State change not published",
			zap.String("transaction_id", event.TransactionID),
			zap.String("state", string(event.State)),
			zap.Error(err),
		)
	}
}

// operation tracks one orchestrator call for tracing and metrics.
type operation struct {
	name     string
	provider string
	start    time.Time
	span     trace.Span
}

func (o *Orchestrator) observe(ctx context.Context, name, providerName string) (context.Context, *operation) {
	ctx, span := telemetry.Tracer.Start(ctx, "Orchestrator."+name)
	op := &operation{name: name, start: time.Now(), span: span}
	op.setProvider(providerName)
	return ctx, op
}

func (op *operation) setProvider(name string) {
	if p, ok := models.ParseProvider(name); ok {
		op.provider = string(p)
		op.span.SetAttributes(attribute.String("provider", op.provider))
	}
}

func (op *operation) done(err error) {
	label := op.provider
	if label == "" {
		label = "none"
	}
	telemetry.PaymentOperations.WithLabelValues(label, op.name, outcome(err)).Inc()
	telemetry.PaymentOperationDuration.WithLabelValues(label, op.name).Observe(time.Since(op.start).Seconds())
	telemetry.EndSpan(op.span, err)
}

func outcome(err error) string {
	var verr *pkgerrors.ValidationError
	var unsupported *pkgerrors.UnsupportedProviderError
	var transition *pkgerrors.InvalidTransitionError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr), errors.As(err, &unsupported):
		return "invalid"
	case errors.As(err, &transition), errors.Is(err, pkgerrors.ErrTransactionLocked), errors.Is(err, pkgerrors.ErrConcurrentUpdate):
		return "conflict"
	case errors.Is(err, pkgerrors.ErrTransactionNotFound):
		return "not_found"
	case pkgerrors.IsRejected(err):
		return "rejected"
	case pkgerrors.IsAmbiguous(err):
		return "ambiguous"
	default:
		return "error"
	}
}

// withAmount reports the provider's amount when it sent one.
func withAmount(result *models.PaymentResult, amount decimal.Decimal) *models.PaymentResult {
	if !amount.IsZero() {
		result.Amount = amount
	}
	return result
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
