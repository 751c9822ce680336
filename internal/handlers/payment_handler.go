package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

// PaymentService is the part of the orchestrator the payment routes use.
type PaymentService interface {
	Authorize(ctx context.Context, req *models.PaymentRequest) (*models.PaymentResult, error)
	Capture(ctx context.Context, id uuid.UUID) (*models.PaymentResult, error)
	Refund(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*models.PaymentResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentResult, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type paymentResponse struct {
	ID                    string    `json:"id"`
	Provider              string    `json:"provider"`
	ProviderTransactionID string    `json:"provider_transaction_id,omitempty"`
	Amount                string    `json:"amount"`
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	PaymentMethod         string    `json:"payment_method"`
	Description           string    `json:"description,omitempty"`
	CustomerID            string    `json:"customer_id,omitempty"`
	Metadata              string    `json:"metadata,omitempty"`
	ErrorMessage          string    `json:"error_message,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newPaymentResponse(r *models.PaymentResult) paymentResponse {
	return paymentResponse{
		ID:                    r.ID.String(),
		Provider:              string(r.Provider),
		ProviderTransactionID: r.ProviderTransactionID,
		Amount:                r.Amount.StringFixed(2),
		Currency:              r.Currency,
		Status:                string(r.Status),
		PaymentMethod:         r.PaymentMethod,
		Description:           r.Description,
		CustomerID:            r.CustomerID,
		Metadata:              r.Metadata,
		ErrorMessage:          r.ErrorMessage,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func (h *PaymentHandler) Authorize(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding payment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.payments.Authorize(c.Request.Context(), &req)
	if err != nil {
		writeError(c, "authorize", err)
		return
	}

	c.JSON(http.StatusOK, newPaymentResponse(result))
}

func (h *PaymentHandler) Capture(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	result, err := h.payments.Capture(c.Request.Context(), id)
	if err != nil {
		writeError(c, "capture", err)
		return
	}

	c.JSON(http.StatusOK, newPaymentResponse(result))
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	raw := c.Query("amount")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal number"})
		return
	}

	result, err := h.payments.Refund(c.Request.Context(), id, amount)
	if err != nil {
		writeError(c, "refund", err)
		return
	}

	c.JSON(http.StatusOK, newPaymentResponse(result))
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	result, err := h.payments.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, "get", err)
		return
	}

	c.JSON(http.StatusOK, newPaymentResponse(result))
}

func transactionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the error taxonomy to a status code. Provider detail is logged and
// never sent to the client.
func writeError(c *gin.Context, op string, err error) {
	var (
		validationErr  *pkgerrors.ValidationError
		unsupportedErr *pkgerrors.UnsupportedProviderError
		transitionErr  *pkgerrors.InvalidTransitionError
		providerErr    *pkgerrors.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason, "field": validationErr.Field})
	case errors.As(err, &unsupportedErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": unsupportedErr.Error()})
	case errors.Is(err, pkgerrors.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
	case errors.Is(err, pkgerrors.ErrTransactionLocked), errors.Is(err, pkgerrors.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &providerErr):
		telemetry.Logger.Error("Provider call failed",
			zap.String("operation", op),
			zap.String("transaction_id", providerErr.TransactionID),
			zap.Error(err),
		)
		if providerErr.Kind == pkgerrors.KindAmbiguous {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "payment outcome unknown", "transaction_id": providerErr.TransactionID})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment processing failed", "transaction_id": providerErr.TransactionID})
	default:
		telemetry.Logger.Error("Payment operation failed", zap.String("operation", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
