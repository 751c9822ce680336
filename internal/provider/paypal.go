package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

const tokenRefreshSkew = 60 * time.Second

type PayPalConfig struct {
	APIURL       string
	ClientID     string
	ClientSecret string
}

// PayPalAdapter uses the Orders v2 API with intent AUTHORIZE. Amounts travel as
// two-decimal strings in major units.
type PayPalAdapter struct {
	cfg    PayPalConfig
	tr     transport
	tokens *TokenCache
}

func NewPayPalAdapter(cfg PayPalConfig, client *http.Client) *PayPalAdapter {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	a := &PayPalAdapter{cfg: cfg, tr: transport{provider: string(models.ProviderPayPal), client: client}}
	a.tokens = NewTokenCache(a.fetchToken, tokenRefreshSkew)
	return a
}

func (a *PayPalAdapter) Name() models.Provider { return models.ProviderPayPal }

func (a *PayPalAdapter) Supports(name string) bool { return supports(models.ProviderPayPal, name) }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	PaymentSource *paypalPaymentSource `json:"payment_source,omitempty"`
}

type paypalPaymentSource struct {
	Token paypalToken `json:"token"`
}

type paypalToken struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type paypalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Amount      *paypalAmount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
}

type paypalOrderResponse struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalRefundResponse struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Amount *paypalAmount `json:"amount"`
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *PayPalAdapter) Authorize(ctx context.Context, req AuthorizeRequest) (*models.ProviderResult, error) {
	const op = "authorize"

	currency := strings.ToUpper(req.Currency)
	payload := paypalOrderRequest{
		Intent: "AUTHORIZE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.CustomerID,
			Description: req.Description,
			Amount:      &paypalAmount{CurrencyCode: currency, Value: req.Amount.StringFixed(2)},
		}},
		PaymentSource: &paypalPaymentSource{
			Token: paypalToken{ID: req.PaymentMethod, Type: "PAYMENT_METHOD_TOKEN"},
		},
	}

	var resp paypalOrderResponse
	raw, err := a.send(ctx, op, http.MethodPost, a.cfg.APIURL+"/v2/checkout/orders", payload, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, pkgerrors.Ambiguous(string(models.ProviderPayPal), op, 0, errors.New("response missing order id"))
	}

	return &models.ProviderResult{
		ProviderTransactionID: resp.ID,
		Amount:                req.Amount,
		Currency:              currency,
		Status:                models.StatusAuthorized,
		PaymentMethod:         req.PaymentMethod,
		RawResponse:           string(raw),
	}, nil
}

// Capture captures the order. The returned ProviderTransactionID is the capture id,
// which later refunds must reference.
func (a *PayPalAdapter) Capture(ctx context.Context, providerTxID string) (*models.ProviderResult, error) {
	const op = "capture"

	var resp paypalOrderResponse
	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", a.cfg.APIURL, url.PathEscape(providerTxID))
	raw, err := a.send(ctx, op, http.MethodPost, endpoint, struct{}{}, &resp)
	if err != nil {
		return nil, err
	}

	result := &models.ProviderResult{
		ProviderTransactionID: providerTxID,
		Status:                models.StatusCaptured,
		RawResponse:           string(raw),
	}
	if len(resp.PurchaseUnits) == 0 {
		return result, nil
	}

	unit := resp.PurchaseUnits[0]
	if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
		c := unit.Payments.Captures[0]
		if strings.EqualFold(c.Status, "DECLINED") {
			return nil, pkgerrors.Rejected(string(models.ProviderPayPal), op, 0, fmt.Errorf("capture %s declined", c.ID))
		}
		result.ProviderTransactionID = c.ID
		result.Currency = c.Amount.CurrencyCode
		result.Amount = parseAmount(c.Amount.Value)
		return result, nil
	}
	if unit.Amount != nil {
		result.Currency = unit.Amount.CurrencyCode
		result.Amount = parseAmount(unit.Amount.Value)
	}
	return result, nil
}

func (a *PayPalAdapter) Refund(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (*models.ProviderResult, error) {
	const op = "refund"

	currency = strings.ToUpper(currency)
	payload := struct {
		Amount paypalAmount `json:"amount"`
	}{Amount: paypalAmount{CurrencyCode: currency, Value: amount.StringFixed(2)}}

	var resp paypalRefundResponse
	endpoint := fmt.Sprintf("%s/v2/payments/captures/%s/refund", a.cfg.APIURL, url.PathEscape(captureID))
	raw, err := a.send(ctx, op, http.MethodPost, endpoint, payload, &resp)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(resp.Status, "FAILED") || strings.EqualFold(resp.Status, "CANCELLED") {
		return nil, pkgerrors.Rejected(string(models.ProviderPayPal), op, 0, fmt.Errorf("refund %s %s", resp.ID, strings.ToLower(resp.Status)))
	}

	return &models.ProviderResult{
		ProviderTransactionID: captureID,
		Amount:                amount,
		Currency:              currency,
		Status:                models.StatusRefunded,
		RawResponse:           string(raw),
	}, nil
}

func (a *PayPalAdapter) send(ctx context.Context, op, method, endpoint string, payload any, out any) ([]byte, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		return nil, pkgerrors.Rejected(string(models.ProviderPayPal), op, 0, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, &body)
	if err != nil {
		return nil, pkgerrors.Rejected(string(models.ProviderPayPal), op, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	raw, err := a.tr.do(ctx, op, req, out)
	var perr *pkgerrors.ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusUnauthorized {
		a.tokens.Invalidate()
	}
	return raw, err
}

func (a *PayPalAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	const op = "oauth"

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, pkgerrors.Rejected(string(models.ProviderPayPal), op, 0, fmt.Errorf("build request: %w", err))
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp paypalTokenResponse
	if _, err := a.tr.do(ctx, op, req, &resp); err != nil {
		return "", 0, err
	}
	if resp.AccessToken == "" {
		return "", 0, pkgerrors.Ambiguous(string(models.ProviderPayPal), op, 0, errors.New("response missing access_token"))
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

func parseAmount(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
