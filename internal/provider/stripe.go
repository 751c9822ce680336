package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

type StripeConfig struct {
	APIURL string
	APIKey string
}

// StripeAdapter uses the form-encoded charges API with capture disabled, so an
// authorization is an uncaptured charge.
type StripeAdapter struct {
	cfg StripeConfig
	tr  transport
}

func NewStripeAdapter(cfg StripeConfig, client *http.Client) *StripeAdapter {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &StripeAdapter{cfg: cfg, tr: transport{provider: string(models.ProviderStripe), client: client}}
}

func (a *StripeAdapter) Name() models.Provider { return models.ProviderStripe }

func (a *StripeAdapter) Supports(name string) bool { return supports(models.ProviderStripe, name) }

type stripeCharge struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountCaptured int64  `json:"amount_captured"`
	Currency       string `json:"currency"`
	Captured       bool   `json:"captured"`
	FailureMessage string `json:"failure_message"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	Charge string `json:"charge"`
}

func (a *StripeAdapter) Authorize(ctx context.Context, req AuthorizeRequest) (*models.ProviderResult, error) {
	const op = "authorize"

	form := url.Values{
		"amount":   {strconv.FormatInt(minorUnits(req.Amount), 10)},
		"currency": {strings.ToLower(req.Currency)},
		"source":   {req.PaymentMethod},
		"capture":  {"false"},
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	if req.CustomerID != "" {
		form.Set("metadata[customer_id]", req.CustomerID)
	}

	var charge stripeCharge
	raw, err := a.send(ctx, op, "/v1/charges", form, &charge)
	if err != nil {
		return nil, err
	}
	if charge.Status == "failed" {
		return nil, pkgerrors.Rejected(string(models.ProviderStripe), op, 0, fmt.Errorf("charge %s failed: %s", charge.ID, charge.FailureMessage))
	}
	if charge.ID == "" {
		return nil, pkgerrors.Ambiguous(string(models.ProviderStripe), op, 0, errors.New("response missing charge id"))
	}

	return &models.ProviderResult{
		ProviderTransactionID: charge.ID,
		Amount:                req.Amount,
		Currency:              strings.ToUpper(req.Currency),
		Status:                models.StatusAuthorized,
		PaymentMethod:         req.PaymentMethod,
		RawResponse:           string(raw),
	}, nil
}

func (a *StripeAdapter) Capture(ctx context.Context, providerTxID string) (*models.ProviderResult, error) {
	const op = "capture"

	var charge stripeCharge
	raw, err := a.send(ctx, op, "/v1/charges/"+url.PathEscape(providerTxID)+"/capture", url.Values{}, &charge)
	if err != nil {
		return nil, err
	}
	if charge.Status == "failed" {
		return nil, pkgerrors.Rejected(string(models.ProviderStripe), op, 0, fmt.Errorf("charge %s failed: %s", charge.ID, charge.FailureMessage))
	}

	captured := charge.AmountCaptured
	if captured == 0 {
		captured = charge.Amount
	}
	return &models.ProviderResult{
		ProviderTransactionID: providerTxID,
		Amount:                fromMinorUnits(captured),
		Currency:              strings.ToUpper(charge.Currency),
		Status:                models.StatusCaptured,
		RawResponse:           string(raw),
	}, nil
}

func (a *StripeAdapter) Refund(ctx context.Context, providerTxID string, amount decimal.Decimal, currency string) (*models.ProviderResult, error) {
	const op = "refund"

	form := url.Values{
		"charge": {providerTxID},
		"amount": {strconv.FormatInt(minorUnits(amount), 10)},
	}

	var refund stripeRefund
	raw, err := a.send(ctx, op, "/v1/refunds", form, &refund)
	if err != nil {
		return nil, err
	}
	if refund.Status == "failed" || refund.Status == "canceled" {
		return nil, pkgerrors.Rejected(string(models.ProviderStripe), op, 0, fmt.Errorf("refund %s %s", refund.ID, refund.Status))
	}

	return &models.ProviderResult{
		ProviderTransactionID: providerTxID,
		Amount:                amount,
		Currency:              strings.ToUpper(currency),
		Status:                models.StatusRefunded,
		RawResponse:           string(raw),
	}, nil
}

func (a *StripeAdapter) send(ctx context.Context, op, path string, form url.Values, out any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Rejected(string(models.ProviderStripe), op, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return a.tr.do(ctx, op, req, out)
}
