package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-gateway/internal/interfaces"
	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

const (
	maxScale             = 2
	maxDescriptionLength = 255
	maxCustomerIDLength  = 100
	maxMetadataLength    = 1000
	maxCardYearsAhead    = 20
)

var (
	MinAmount = decimal.RequireFromString("0.01")

	SupportedCurrencies = []string{"BRL", "USD", "EUR", "GBP"}

	// Ceilings are per currency; all four currently share the same limit.
	maxAmountByCurrency = map[string]decimal.Decimal{
		"BRL": decimal.RequireFromString("999999.99"),
		"USD": decimal.RequireFromString("999999.99"),
		"EUR": decimal.RequireFromString("999999.99"),
		"GBP": decimal.RequireFromString("999999.99"),
	}

	providerCurrencies = map[models.Provider][]string{
		models.ProviderStripe: {"BRL", "USD", "EUR", "GBP"},
		models.ProviderCielo:  {"BRL"},
		models.ProviderPayPal: {"BRL", "USD", "EUR", "GBP"},
	}

	paymentMethodPrefixes = map[models.Provider][]string{
		models.ProviderStripe: {"tok_", "card_"},
		models.ProviderCielo:  {"card_"},
		models.ProviderPayPal: {"paypal_"},
	}

	SupportedCardBrands = []string{"VISA", "MASTERCARD", "AMEX", "ELO", "HIPERCARD"}
)

// Validator runs the business rules that gate a request before any provider is called.
type Validator struct {
	customers interfaces.CustomerDirectory
}

// NewValidator creates a validator. customers may be nil, in which case customer
// references are not checked.
func NewValidator(customers interfaces.CustomerDirectory) *Validator {
	return &Validator{customers: customers}
}

// ValidatePaymentRequest applies the rules in order and returns the first violation.
func (v *Validator) ValidatePaymentRequest(ctx context.Context, req *models.PaymentRequest) error {
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	currency, err := validateCurrency(req.Currency)
	if err != nil {
		return err
	}
	provider, err := validateProvider(req.Provider)
	if err != nil {
		return err
	}
	if err := validateProviderCurrency(provider, currency); err != nil {
		return err
	}
	if err := validateAmountCurrency(*req.Amount, currency); err != nil {
		return err
	}
	if err := validatePaymentMethod(req.PaymentMethod, provider); err != nil {
		return err
	}
	if err := v.validateCustomer(ctx, req.CustomerID); err != nil {
		return err
	}
	return validateFieldLengths(req)
}

// ValidateRefundAmount checks a refund amount against what is left to refund on tx.
func ValidateRefundAmount(tx *models.Transaction, amount decimal.Decimal) error {
	if amount.LessThan(MinAmount) {
		return pkgerrors.NewValidationError("amount", "refund amount must be at least %s", MinAmount.StringFixed(maxScale))
	}
	if Scale(amount) > maxScale {
		return pkgerrors.NewValidationError("amount", "amount cannot have more than %d decimal places", maxScale)
	}
	remaining := tx.Amount.Sub(tx.RefundedAmount)
	if amount.GreaterThan(remaining) {
		return pkgerrors.NewValidationError("amount", "refund amount %s exceeds refundable balance %s %s",
			amount.StringFixed(maxScale), remaining.StringFixed(maxScale), tx.Currency)
	}
	return nil
}

// ValidateCreditCard checks a stored card record as of now.
func ValidateCreditCard(card *models.CreditCard, now time.Time) error {
	if card.ExpirationMonth < 1 || card.ExpirationMonth > 12 {
		return pkgerrors.NewValidationError("expiration_month", "expiration month must be between 1 and 12")
	}
	if card.ExpirationYear > now.Year()+maxCardYearsAhead {
		return pkgerrors.NewValidationError("expiration_year", "expiration year must be valid")
	}

	// Day 0 of the following month is the last day of the expiration month.
	lastDay := time.Date(card.ExpirationYear, time.Month(card.ExpirationMonth)+1, 0, 0, 0, 0, 0, now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if lastDay.Before(today) {
		return pkgerrors.NewValidationError("expiration", "card is expired")
	}

	if !contains(SupportedCardBrands, strings.ToUpper(card.Brand)) {
		return pkgerrors.NewValidationError("brand", "unsupported card brand: %s. Supported brands: %v", card.Brand, SupportedCardBrands)
	}

	if !isFourDigits(card.LastFourDigits) {
		return pkgerrors.NewValidationError("last_four_digits", "last four digits must be exactly 4 numbers")
	}
	return nil
}

// SupportedCurrenciesFor returns the currencies provider accepts.
func SupportedCurrenciesFor(provider models.Provider) []string {
	return providerCurrencies[provider]
}

// Scale is the number of decimal places carried by d.
func Scale(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

func validateAmount(amount *decimal.Decimal) error {
	if amount == nil {
		return pkgerrors.NewValidationError("amount", "amount is required")
	}
	if amount.LessThan(MinAmount) {
		return pkgerrors.NewValidationError("amount", "amount must be at least %s", MinAmount.StringFixed(maxScale))
	}
	return nil
}

func validateCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "", pkgerrors.NewValidationError("currency", "currency is required")
	}
	if !contains(SupportedCurrencies, currency) {
		return "", pkgerrors.NewValidationError("currency", "unsupported currency: %s. Supported currencies: %v", currency, SupportedCurrencies)
	}
	return currency, nil
}

func validateProvider(name string) (models.Provider, error) {
	if strings.TrimSpace(name) == "" {
		return "", pkgerrors.NewValidationError("provider", "provider is required")
	}
	provider, ok := models.ParseProvider(name)
	if !ok {
		return "", pkgerrors.NewValidationError("provider", "unsupported provider: %s. Supported providers: %v", name, models.Providers)
	}
	return provider, nil
}

func validateProviderCurrency(provider models.Provider, currency string) error {
	if !contains(SupportedCurrenciesFor(provider), currency) {
		return pkgerrors.NewValidationError("currency", "currency %s is not supported by provider %s", currency, provider)
	}
	return nil
}

func validateAmountCurrency(amount decimal.Decimal, currency string) error {
	ceiling := maxAmountByCurrency[currency]
	if amount.GreaterThan(ceiling) {
		return pkgerrors.NewValidationError("amount", "amount cannot exceed %s for currency %s", ceiling.StringFixed(maxScale), currency)
	}
	if Scale(amount) > maxScale {
		return pkgerrors.NewValidationError("amount", "amount cannot have more than %d decimal places", maxScale)
	}
	return nil
}

func validatePaymentMethod(method string, provider models.Provider) error {
	if strings.TrimSpace(method) == "" {
		return pkgerrors.NewValidationError("payment_method", "payment method is required")
	}
	prefixes := paymentMethodPrefixes[provider]
	for _, prefix := range prefixes {
		if strings.HasPrefix(method, prefix) {
			return nil
		}
	}
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = fmt.Sprintf("'%s'", p)
	}
	return pkgerrors.NewValidationError("payment_method", "%s token must start with %s", provider, strings.Join(quoted, " or "))
}

func (v *Validator) validateCustomer(ctx context.Context, customerID string) error {
	if customerID == "" || v.customers == nil {
		return nil
	}
	exists, err := v.customers.ExistsByExternalID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrCustomerLookupFailed, err)
	}
	if !exists {
		return pkgerrors.NewValidationError("customer_id", "customer not found: %s", customerID)
	}
	return nil
}

func validateFieldLengths(req *models.PaymentRequest) error {
	if len(req.Description) > maxDescriptionLength {
		return pkgerrors.NewValidationError("description", "description cannot exceed %d characters", maxDescriptionLength)
	}
	if len(req.CustomerID) > maxCustomerIDLength {
		return pkgerrors.NewValidationError("customer_id", "customer id cannot exceed %d characters", maxCustomerIDLength)
	}
	if len(req.Metadata) > maxMetadataLength {
		return pkgerrors.NewValidationError("metadata", "metadata cannot exceed %d characters", maxMetadataLength)
	}
	return nil
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
