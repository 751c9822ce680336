package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
)

type AuditLogService interface {
	ListAuditLog(ctx context.Context, id uuid.UUID) ([]models.AuditLogEntry, error)
	ListAuditLogByStatus(ctx context.Context, id uuid.UUID, status models.Status) ([]models.AuditLogEntry, error)
}

// TransactionLogHandler serves the audit trail of a transaction.
type TransactionLogHandler struct {
	logs AuditLogService
}

func NewTransactionLogHandler(logs AuditLogService) *TransactionLogHandler {
	return &TransactionLogHandler{logs: logs}
}

func (h *TransactionLogHandler) List(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	entries, err := h.logs.ListAuditLog(c.Request.Context(), id)
	if err != nil {
		writeError(c, "list_audit_log", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *TransactionLogHandler) ListByStatus(c *gin.Context) {
	id, ok := transactionID(c)
	if !ok {
		return
	}

	status := models.Status(strings.ToUpper(c.Param("status")))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + c.Param("status")})
		return
	}

	entries, err := h.logs.ListAuditLogByStatus(c.Request.Context(), id, status)
	if err != nil {
		writeError(c, "list_audit_log", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
