package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTransactionNotFound          = errors.New("transaction not found")
	ErrTransactionLocked            = errors.New("transaction is already being processed")
	ErrConcurrentUpdate             = errors.New("transaction was modified concurrently")
	ErrDuplicateProviderTransaction = errors.New("provider transaction id already recorded")
	ErrNilTransaction               = errors.New("transaction is nil")
	ErrNilAuditLogEntry             = errors.New("audit log entry is nil")
	ErrCustomerLookupFailed         = errors.New("customer lookup failed")
)

// ValidationError is returned by the first failing validation rule. No provider call has been made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %s", e.Name)
}

type NotFoundError struct {
	TransactionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction not found: %s", e.TransactionID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrTransactionNotFound
}

// InvalidTransitionError reports a capture or refund attempted from a status that does not allow it.
type InvalidTransitionError struct {
	TransactionID string
	From          string
	To            string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transaction %s cannot move from %s to %s", e.TransactionID, e.From, e.To)
}

// ProviderErrorKind separates failures the provider definitely refused from failures
// whose provider-side result is unknown.
type ProviderErrorKind int

const (
	KindRejected ProviderErrorKind = iota
	KindAmbiguous
)

func (k ProviderErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

type ProviderError struct {
	Provider   string
	Op         string
	Kind       ProviderErrorKind
	StatusCode int
	Cause      error

	// TransactionID is filled in by the orchestrator once the failure is tied to a
	// stored transaction.
	TransactionID string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s %s (status %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Kind, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func Rejected(provider, op string, statusCode int, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: KindRejected, StatusCode: statusCode, Cause: cause}
}

func Ambiguous(provider, op string, statusCode int, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: KindAmbiguous, StatusCode: statusCode, Cause: cause}
}

// IsAmbiguous reports whether err carries an ambiguous provider outcome.
func IsAmbiguous(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Kind == KindAmbiguous
}

// IsRejected reports whether err carries a definitive provider rejection.
func IsRejected(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Kind == KindRejected
}
