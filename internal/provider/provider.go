// Package provider translates normalized authorize, capture and refund calls into each
// external processor's protocol and maps the responses back into models.ProviderResult.
package provider

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

// Adapter is implemented once per provider. Adapters never retry: a failed call is
// reported as a *errors.ProviderError whose Kind tells the caller whether the provider
// definitely refused the operation or the outcome is unknown.
type Adapter interface {
	Name() models.Provider
	Supports(name string) bool
	Authorize(ctx context.Context, req AuthorizeRequest) (*models.ProviderResult, error)
	Capture(ctx context.Context, providerTxID string) (*models.ProviderResult, error)
	Refund(ctx context.Context, providerTxID string, amount decimal.Decimal, currency string) (*models.ProviderResult, error)
}

type AuthorizeRequest struct {
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Description   string
	CustomerID    string
}

func supports(p models.Provider, name string) bool {
	return strings.EqualFold(string(p), strings.TrimSpace(name))
}

// Registry resolves a provider name to its configured adapter.
type Registry struct {
	adapters map[models.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Adapter returns the adapter for name, or *errors.UnsupportedProviderError when the
// provider is unknown or was not configured.
func (r *Registry) Adapter(name string) (Adapter, error) {
	p, ok := models.ParseProvider(name)
	if !ok {
		return nil, &pkgerrors.UnsupportedProviderError{Name: name}
	}
	a, ok := r.adapters[p]
	if !ok {
		return nil, &pkgerrors.UnsupportedProviderError{Name: name}
	}
	return a, nil
}

// Providers lists the configured providers in declaration order.
func (r *Registry) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(r.adapters))
	for _, p := range models.Providers {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// minorUnits converts a major-unit amount to integer cents, truncating any extra precision.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

func fromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
