package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRegistry(t *testing.T) {
	client := NewHTTPClient(time.Second)
	r := NewRegistry(
		NewStripeAdapter(StripeConfig{}, client),
		NewCieloAdapter(CieloConfig{}, client),
	)

	a, err := r.Adapter(" Cielo ")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderCielo, a.Name())
	assert.True(t, a.Supports("CIELO"))
	assert.False(t, a.Supports("stripe"))

	_, err = r.Adapter("paypal")
	var unsupported *pkgerrors.UnsupportedProviderError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "paypal", unsupported.Name)

	_, err = r.Adapter("adyen")
	require.ErrorAs(t, err, &unsupported)

	assert.Equal(t, []models.Provider{models.ProviderStripe, models.ProviderCielo}, r.Providers())
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10000), minorUnits(dec("100.00")))
	assert.Equal(t, int64(1), minorUnits(dec("0.01")))
	assert.Equal(t, int64(99999999), minorUnits(dec("999999.99")))
	assert.True(t, fromMinorUnits(5050).Equal(dec("50.50")))
}

func TestCieloAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("authorize sends cents and returns payment id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/1/sales", r.URL.Path)
			assert.Equal(t, "merchant", r.Header.Get("MerchantId"))
			assert.Equal(t, "secret", r.Header.Get("MerchantKey"))

			var body cieloSaleRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(10000), body.Payment.Amount)
			assert.Equal(t, "BRL", body.Payment.Currency)
			assert.Equal(t, "card_abc", body.Payment.CreditCard.CardToken)
			assert.False(t, body.Payment.Capture)
			assert.Equal(t, "cust-1", body.MerchantOrderID)

			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"Payment":{"PaymentId":"pay-1","Status":1,"Amount":10000}}`)
		}))
		defer srv.Close()

		a := NewCieloAdapter(CieloConfig{APIURL: srv.URL + "/", MerchantID: "merchant", MerchantKey: "secret"}, srv.Client())
		res, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("100.00"), Currency: "BRL", PaymentMethod: "card_abc", CustomerID: "cust-1"})
		require.NoError(t, err)
		assert.Equal(t, "pay-1", res.ProviderTransactionID)
		assert.Equal(t, models.StatusAuthorized, res.Status)
		assert.True(t, res.Amount.Equal(dec("100.00")))
		assert.Contains(t, res.RawResponse, "pay-1")
	})

	t.Run("denied status is a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"Payment":{"PaymentId":"pay-2","Status":3,"ReturnCode":"05","ReturnMessage":"Not Authorized"}}`)
		}))
		defer srv.Close()

		a := NewCieloAdapter(CieloConfig{APIURL: srv.URL}, srv.Client())
		_, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("10.00"), Currency: "BRL", PaymentMethod: "card_x"})
		assert.True(t, pkgerrors.IsRejected(err))
	})

	t.Run("non BRL currency is rejected without a call", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer srv.Close()

		a := NewCieloAdapter(CieloConfig{APIURL: srv.URL}, srv.Client())
		_, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("10.00"), Currency: "USD", PaymentMethod: "card_x"})
		assert.True(t, pkgerrors.IsRejected(err))
		assert.Zero(t, atomic.LoadInt32(&calls))
	})

	t.Run("capture reads captured amount", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/1/sales/pay-1/capture", r.URL.Path)
			_, _ = io.WriteString(w, `{"Status":2,"CapturedAmount":10000}`)
		}))
		defer srv.Close()

		a := NewCieloAdapter(CieloConfig{APIURL: srv.URL}, srv.Client())
		res, err := a.Capture(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCaptured, res.Status)
		assert.True(t, res.Amount.Equal(dec("100.00")))
	})

	t.Run("refund voids amount in cents", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/1/sales/pay-1/void", r.URL.Path)
			assert.Equal(t, "5000", r.URL.Query().Get("amount"))
			_, _ = io.WriteString(w, `{"Status":10,"VoidedAmount":5000}`)
		}))
		defer srv.Close()

		a := NewCieloAdapter(CieloConfig{APIURL: srv.URL}, srv.Client())
		res, err := a.Refund(ctx, "pay-1", dec("50.00"), "BRL")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, res.Status)
		assert.True(t, res.Amount.Equal(dec("50.00")))
	})
}

func TestTransportClassification(t *testing.T) {
	ctx := context.Background()
	req := AuthorizeRequest{Amount: dec("10.00"), Currency: "USD", PaymentMethod: "tok_visa"}

	tests := []struct {
		name      string
		status    int
		body      string
		ambiguous bool
	}{
		{"client error is rejected", http.StatusPaymentRequired, `{"error":{"message":"card declined"}}`, false},
		{"bad request is rejected", http.StatusBadRequest, `{}`, false},
		{"server error is ambiguous", http.StatusBadGateway, `upstream down`, true},
		{"undecodable success is ambiguous", http.StatusOK, `not json`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := NewStripeAdapter(StripeConfig{APIURL: srv.URL, APIKey: "sk"}, srv.Client())
			_, err := a.Authorize(ctx, req)
			require.Error(t, err)

			var perr *pkgerrors.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "stripe", perr.Provider)
			assert.Equal(t, "authorize", perr.Op)
			assert.Equal(t, tt.ambiguous, pkgerrors.IsAmbiguous(err))
			assert.Equal(t, !tt.ambiguous, pkgerrors.IsRejected(err))
		})
	}

	t.Run("timeout is ambiguous", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		a := NewStripeAdapter(StripeConfig{APIURL: srv.URL}, NewHTTPClient(50*time.Millisecond))
		_, err := a.Authorize(ctx, req)
		assert.True(t, pkgerrors.IsAmbiguous(err))
	})

	t.Run("unreachable host is ambiguous", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		endpoint := srv.URL
		srv.Close()

		a := NewStripeAdapter(StripeConfig{APIURL: endpoint}, NewHTTPClient(time.Second))
		_, err := a.Authorize(ctx, req)
		assert.True(t, pkgerrors.IsAmbiguous(err))
	})
}

func TestStripeAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("authorize posts an uncaptured charge", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/charges", r.URL.Path)
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "2550", r.PostForm.Get("amount"))
			assert.Equal(t, "usd", r.PostForm.Get("currency"))
			assert.Equal(t, "tok_visa", r.PostForm.Get("source"))
			assert.Equal(t, "false", r.PostForm.Get("capture"))
			_, _ = io.WriteString(w, `{"id":"ch_1","status":"succeeded","amount":2550,"currency":"usd","captured":false}`)
		}))
		defer srv.Close()

		a := NewStripeAdapter(StripeConfig{APIURL: srv.URL, APIKey: "sk_test"}, srv.Client())
		res, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("25.50"), Currency: "USD", PaymentMethod: "tok_visa"})
		require.NoError(t, err)
		assert.Equal(t, "ch_1", res.ProviderTransactionID)
		assert.Equal(t, "USD", res.Currency)
	})

	t.Run("failed charge is rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":"ch_2","status":"failed","failure_message":"insufficient funds"}`)
		}))
		defer srv.Close()

		a := NewStripeAdapter(StripeConfig{APIURL: srv.URL}, srv.Client())
		_, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("25.50"), Currency: "USD", PaymentMethod: "tok_visa"})
		assert.True(t, pkgerrors.IsRejected(err))
	})

	t.Run("capture and refund", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			switch r.URL.Path {
			case "/v1/charges/ch_1/capture":
				_, _ = io.WriteString(w, `{"id":"ch_1","status":"succeeded","amount":2550,"amount_captured":2550,"currency":"usd","captured":true}`)
			case "/v1/refunds":
				assert.Equal(t, "ch_1", r.PostForm.Get("charge"))
				assert.Equal(t, "1000", r.PostForm.Get("amount"))
				_, _ = io.WriteString(w, `{"id":"re_1","status":"succeeded","amount":1000,"charge":"ch_1"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		a := NewStripeAdapter(StripeConfig{APIURL: srv.URL}, srv.Client())
		captured, err := a.Capture(ctx, "ch_1")
		require.NoError(t, err)
		assert.True(t, captured.Amount.Equal(dec("25.50")))
		assert.Equal(t, "USD", captured.Currency)

		refunded, err := a.Refund(ctx, "ch_1", dec("10.00"), "usd")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, refunded.Status)
		assert.Equal(t, "USD", refunded.Currency)
	})
}

func newPayPalServer(t *testing.T, tokenCalls *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			atomic.AddInt32(tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			_, _ = io.WriteString(w, `{"access_token":"access-1","token_type":"Bearer","expires_in":32400}`)
			return
		}
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		handler(w, r)
	}))
}

func TestPayPalAdapter(t *testing.T) {
	ctx := context.Background()
	cfg := func(srv *httptest.Server) PayPalConfig {
		return PayPalConfig{APIURL: srv.URL, ClientID: "client", ClientSecret: "secret"}
	}

	t.Run("full lifecycle reuses one token", func(t *testing.T) {
		var tokenCalls int32
		srv := newPayPalServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v2/checkout/orders":
				var body paypalOrderRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "AUTHORIZE", body.Intent)
				require.Len(t, body.PurchaseUnits, 1)
				assert.Equal(t, "EUR", body.PurchaseUnits[0].Amount.CurrencyCode)
				assert.Equal(t, "42.00", body.PurchaseUnits[0].Amount.Value)
				assert.Equal(t, "cust-7", body.PurchaseUnits[0].ReferenceID)
				require.NotNil(t, body.PaymentSource)
				assert.Equal(t, "paypal_abc", body.PaymentSource.Token.ID)
				assert.Equal(t, "PAYMENT_METHOD_TOKEN", body.PaymentSource.Token.Type)
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, `{"id":"ORDER-1","status":"CREATED"}`)
			case "/v2/checkout/orders/ORDER-1/capture":
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, `{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"EUR","value":"42.00"}}]}}]}`)
			case "/v2/payments/captures/CAP-1/refund":
				var body struct {
					Amount paypalAmount `json:"amount"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "EUR", body.Amount.CurrencyCode)
				assert.Equal(t, "12.50", body.Amount.Value)
				w.WriteHeader(http.StatusCreated)
				_, _ = io.WriteString(w, `{"id":"REF-1","status":"COMPLETED"}`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		defer srv.Close()

		a := NewPayPalAdapter(cfg(srv), srv.Client())

		auth, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("42"), Currency: "eur", PaymentMethod: "paypal_abc", CustomerID: "cust-7"})
		require.NoError(t, err)
		assert.Equal(t, "ORDER-1", auth.ProviderTransactionID)

		captured, err := a.Capture(ctx, "ORDER-1")
		require.NoError(t, err)
		assert.Equal(t, "CAP-1", captured.ProviderTransactionID)
		assert.True(t, captured.Amount.Equal(dec("42.00")))

		refunded, err := a.Refund(ctx, "CAP-1", dec("12.5"), "EUR")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRefunded, refunded.Status)

		assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	})

	t.Run("unauthorized response drops the cached token", func(t *testing.T) {
		var tokenCalls int32
		srv := newPayPalServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		defer srv.Close()

		a := NewPayPalAdapter(cfg(srv), srv.Client())
		_, err := a.Capture(ctx, "ORDER-1")
		assert.True(t, pkgerrors.IsRejected(err))
		_, err = a.Capture(ctx, "ORDER-1")
		assert.True(t, pkgerrors.IsRejected(err))

		assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
	})

	t.Run("token failure surfaces as provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid_client"}`)
		}))
		defer srv.Close()

		a := NewPayPalAdapter(cfg(srv), srv.Client())
		_, err := a.Authorize(ctx, AuthorizeRequest{Amount: dec("1.00"), Currency: "USD", PaymentMethod: "paypal_x"})
		var perr *pkgerrors.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "oauth", perr.Op)
		assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	})
}

func TestTokenCache(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		var fetches int32
		started := make(chan struct{})
		release := make(chan struct{})
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			if atomic.AddInt32(&fetches, 1) == 1 {
				close(started)
			}
			<-release
			return "tok", time.Hour, nil
		}, time.Minute)

		results := make(chan string, 10)
		for i := 0; i < 10; i++ {
			go func() {
				token, err := cache.Token(ctx)
				assert.NoError(t, err)
				results <- token
			}()
		}
		<-started
		time.Sleep(20 * time.Millisecond)
		close(release)

		for i := 0; i < 10; i++ {
			assert.Equal(t, "tok", <-results)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	})

	t.Run("expired token is refreshed", func(t *testing.T) {
		now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
		var fetches int32
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			n := atomic.AddInt32(&fetches, 1)
			return "tok-" + string(rune('0'+n)), 10 * time.Minute, nil
		}, time.Minute)
		cache.now = func() time.Time { return now }

		token, err := cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)

		now = now.Add(8 * time.Minute)
		token, err = cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", token)

		now = now.Add(time.Minute)
		token, err = cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok-2", token)
	})

	t.Run("invalidate forces a fetch", func(t *testing.T) {
		var fetches int32
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			atomic.AddInt32(&fetches, 1)
			return "tok", 0, nil
		}, 0)

		_, err := cache.Token(ctx)
		require.NoError(t, err)
		_, err = cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))

		cache.Invalidate()
		_, err = cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
	})

	t.Run("fetch error is returned and not cached", func(t *testing.T) {
		boom := errors.New("boom")
		fail := true
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			if fail {
				return "", 0, boom
			}
			return "tok", 0, nil
		}, 0)

		_, err := cache.Token(ctx)
		require.ErrorIs(t, err, boom)

		fail = false
		token, err := cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	})

	t.Run("cancelled first caller does not fail waiters", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
			close(started)
			<-release
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			if err := ctx.Err(); err != nil {
				return "", 0, err
			}
			return "tok", time.Hour, nil
		}, time.Minute)

		firstCtx, cancelFirst := context.WithCancel(ctx)
		first := make(chan error, 1)
		go func() {
			_, err := cache.Token(firstCtx)
			first <- err
		}()
		<-started

		second := make(chan string, 1)
		go func() {
			token, err := cache.Token(ctx)
			assert.NoError(t, err)
			second <- token
		}()
		time.Sleep(20 * time.Millisecond)

		cancelFirst()
		close(release)

		assert.NoError(t, <-first)
		assert.Equal(t, "tok", <-second)
	})
}
