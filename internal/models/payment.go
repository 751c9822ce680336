package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusRefunded   Status = "REFUNDED"
	StatusFailed     Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusRefunded, StatusFailed},
	StatusCaptured:   {StatusRefunded, StatusFailed},
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// REFUNDED and FAILED are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAuthorized, StatusCaptured, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderCielo  Provider = "cielo"
	ProviderPayPal Provider = "paypal"
)

// Providers lists every provider the gateway knows about.
var Providers = []Provider{ProviderStripe, ProviderCielo, ProviderPayPal}

// RefundsRequireCapture reports whether the provider can only refund a captured payment.
// PayPal refunds target a capture id, which does not exist before capture.
func (p Provider) RefundsRequireCapture() bool {
	return p == ProviderPayPal
}

// ParseProvider matches name case-insensitively against the known providers.
func ParseProvider(name string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Providers {
		if p == known {
			return known, true
		}
	}
	return "", false
}

// Transaction is the canonical record of one payment lifecycle. It is never deleted.
type Transaction struct {
	ID                    uuid.UUID
	Provider              Provider
	ProviderTransactionID *string
	ProviderCaptureID     *string
	Amount                decimal.Decimal
	RefundedAmount        decimal.Decimal
	Currency              string
	Status                Status
	PaymentMethod         string
	Description           string
	CustomerID            string
	Metadata              string
	RawResponse           string
	ErrorMessage          string
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RefundReference is the provider id a refund must target: the capture id when the
// provider issued one, the authorization id otherwise.
func (t *Transaction) RefundReference() string {
	if t.ProviderCaptureID != nil && *t.ProviderCaptureID != "" {
		return *t.ProviderCaptureID
	}
	if t.ProviderTransactionID != nil {
		return *t.ProviderTransactionID
	}
	return ""
}

func (t *Transaction) ProviderTxID() string {
	if t.ProviderTransactionID == nil {
		return ""
	}
	return *t.ProviderTransactionID
}

type PaymentRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	Currency      string           `json:"currency"`
	PaymentMethod string           `json:"payment_method"`
	Provider      string           `json:"provider"`
	Description   string           `json:"description,omitempty"`
	CustomerID    string           `json:"customer_id,omitempty"`
	Metadata      string           `json:"metadata,omitempty"`
}

// ProviderResult is what an adapter hands back after normalizing a provider response.
type ProviderResult struct {
	ProviderTransactionID string
	Amount                decimal.Decimal
	Currency              string
	Status                Status
	PaymentMethod         string
	RawResponse           string
}

// PaymentResult is the normalized shape returned to callers.
type PaymentResult struct {
	ID                    uuid.UUID
	Provider              Provider
	ProviderTransactionID string
	Amount                decimal.Decimal
	Currency              string
	Status                Status
	PaymentMethod         string
	Description           string
	CustomerID            string
	Metadata              string
	ErrorMessage          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func NewPaymentResult(tx *Transaction) *PaymentResult {
	return &PaymentResult{
		ID:                    tx.ID,
		Provider:              tx.Provider,
		ProviderTransactionID: tx.ProviderTxID(),
		Amount:                tx.Amount,
		Currency:              tx.Currency,
		Status:                tx.Status,
		PaymentMethod:         tx.PaymentMethod,
		Description:           tx.Description,
		CustomerID:            tx.CustomerID,
		Metadata:              tx.Metadata,
		ErrorMessage:          tx.ErrorMessage,
		CreatedAt:             tx.CreatedAt,
		UpdatedAt:             tx.UpdatedAt,
	}
}

// StateChangeEvent is published after every persisted transition.
type StateChangeEvent struct {
	TransactionID string    `json:"transaction_id"`
	Provider      string    `json:"provider"`
	State         Status    `json:"state"`
	PreviousState Status    `json:"previous_state,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}
