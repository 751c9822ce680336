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

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

// Cielo sale statuses that mean the provider refused the operation.
const (
	cieloStatusDenied  = 3
	cieloStatusAborted = 13
)

const cieloCurrency = "BRL"

type CieloConfig struct {
	APIURL      string
	MerchantID  string
	MerchantKey string
}

// CieloAdapter talks to the Cielo e-commerce API: amounts in cents, BRL only,
// refunds through the void endpoint.
type CieloAdapter struct {
	cfg CieloConfig
	tr  transport
}

func NewCieloAdapter(cfg CieloConfig, client *http.Client) *CieloAdapter {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &CieloAdapter{cfg: cfg, tr: transport{provider: string(models.ProviderCielo), client: client}}
}

func (a *CieloAdapter) Name() models.Provider { return models.ProviderCielo }

func (a *CieloAdapter) Supports(name string) bool { return supports(models.ProviderCielo, name) }

type cieloSaleRequest struct {
	MerchantOrderID string       `json:"MerchantOrderId"`
	Payment         cieloPayment `json:"Payment"`
}

type cieloPayment struct {
	Type         string          `json:"Type"`
	Amount       int64           `json:"Amount"`
	Currency     string          `json:"Currency"`
	Installments int             `json:"Installments"`
	Capture      bool            `json:"Capture"`
	SoftDescr    string          `json:"SoftDescriptor,omitempty"`
	CreditCard   cieloCreditCard `json:"CreditCard"`
}

type cieloCreditCard struct {
	CardToken string `json:"CardToken"`
	Brand     string `json:"Brand"`
}

type cieloPaymentResponse struct {
	PaymentID      string `json:"PaymentId"`
	Status         int    `json:"Status"`
	Amount         int64  `json:"Amount"`
	CapturedAmount int64  `json:"CapturedAmount"`
	VoidedAmount   int64  `json:"VoidedAmount"`
	ReturnCode     string `json:"ReturnCode"`
	ReturnMessage  string `json:"ReturnMessage"`
}

// cieloResponse covers both shapes Cielo returns: sale creation nests the payment,
// capture and void answer with flat status fields.
type cieloResponse struct {
	Payment *cieloPaymentResponse `json:"Payment"`
	cieloPaymentResponse
}

func (r *cieloResponse) payment() *cieloPaymentResponse {
	if r.Payment != nil {
		return r.Payment
	}
	return &r.cieloPaymentResponse
}

func (a *CieloAdapter) Authorize(ctx context.Context, req AuthorizeRequest) (*models.ProviderResult, error) {
	const op = "authorize"

	if !strings.EqualFold(req.Currency, cieloCurrency) {
		return nil, pkgerrors.Rejected(string(models.ProviderCielo), op, 0, fmt.Errorf("currency %s not supported", req.Currency))
	}

	payload := cieloSaleRequest{
		MerchantOrderID: req.CustomerID,
		Payment: cieloPayment{
			Type:         "CreditCard",
			Amount:       minorUnits(req.Amount),
			Currency:     cieloCurrency,
			Installments: 1,
			Capture:      false,
			CreditCard: cieloCreditCard{
				CardToken: req.PaymentMethod,
				Brand:     "Visa",
			},
		},
	}

	var resp cieloResponse
	raw, err := a.send(ctx, op, http.MethodPost, a.cfg.APIURL+"/1/sales", payload, &resp)
	if err != nil {
		return nil, err
	}

	p := resp.payment()
	if err := a.checkStatus(op, p); err != nil {
		return nil, err
	}
	if p.PaymentID == "" {
		return nil, pkgerrors.Ambiguous(string(models.ProviderCielo), op, 0, errors.New("response missing PaymentId"))
	}

	return &models.ProviderResult{
		ProviderTransactionID: p.PaymentID,
		Amount:                req.Amount,
		Currency:              cieloCurrency,
		Status:                models.StatusAuthorized,
		PaymentMethod:         req.PaymentMethod,
		RawResponse:           string(raw),
	}, nil
}

func (a *CieloAdapter) Capture(ctx context.Context, providerTxID string) (*models.ProviderResult, error) {
	const op = "capture"

	var resp cieloResponse
	endpoint := fmt.Sprintf("%s/1/sales/%s/capture", a.cfg.APIURL, url.PathEscape(providerTxID))
	raw, err := a.send(ctx, op, http.MethodPut, endpoint, nil, &resp)
	if err != nil {
		return nil, err
	}

	p := resp.payment()
	if err := a.checkStatus(op, p); err != nil {
		return nil, err
	}

	return &models.ProviderResult{
		ProviderTransactionID: providerTxID,
		Amount:                fromMinorUnits(p.CapturedAmount),
		Currency:              cieloCurrency,
		Status:                models.StatusCaptured,
		RawResponse:           string(raw),
	}, nil
}

func (a *CieloAdapter) Refund(ctx context.Context, providerTxID string, amount decimal.Decimal, _ string) (*models.ProviderResult, error) {
	const op = "refund"

	var resp cieloResponse
	endpoint := fmt.Sprintf("%s/1/sales/%s/void?amount=%d", a.cfg.APIURL, url.PathEscape(providerTxID), minorUnits(amount))
	raw, err := a.send(ctx, op, http.MethodPut, endpoint, nil, &resp)
	if err != nil {
		return nil, err
	}

	if err := a.checkStatus(op, resp.payment()); err != nil {
		return nil, err
	}

	return &models.ProviderResult{
		ProviderTransactionID: providerTxID,
		Amount:                amount,
		Currency:              cieloCurrency,
		Status:                models.StatusRefunded,
		RawResponse:           string(raw),
	}, nil
}

func (a *CieloAdapter) checkStatus(op string, p *cieloPaymentResponse) error {
	if p.Status == cieloStatusDenied || p.Status == cieloStatusAborted {
		return pkgerrors.Rejected(string(models.ProviderCielo), op, 0,
			fmt.Errorf("status %d, return code %s: %s", p.Status, p.ReturnCode, p.ReturnMessage))
	}
	return nil
}

func (a *CieloAdapter) send(ctx context.Context, op, method, endpoint string, payload any, out any) ([]byte, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, pkgerrors.Rejected(string(models.ProviderCielo), op, 0, fmt.Errorf("encode request: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, &body)
	if err != nil {
		return nil, pkgerrors.Rejected(string(models.ProviderCielo), op, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("MerchantId", a.cfg.MerchantID)
	req.Header.Set("MerchantKey", a.cfg.MerchantKey)
	req.Header.Set("Content-Type", "application/json")

	return a.tr.do(ctx, op, req, out)
}
