package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry is an immutable record of one state transition attempt.
type AuditLogEntry struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        Status    `json:"status"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreditCard is the stored-card record owned by the customer service. Only the fields
// checked by card validation are modelled here.
type CreditCard struct {
	ID              uuid.UUID
	CustomerID      uuid.UUID
	Brand           string
	LastFourDigits  string
	ExpirationMonth int
	ExpirationYear  int
	IsDefault       bool
}
