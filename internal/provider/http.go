package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
	pkgerrors "github.com/akylbek/payment-system/payment-gateway/pkg/errors"
)

const maxErrorBody = 512

// NewHTTPClient returns the client adapters use for provider calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

type transport struct {
	provider string
	client   *http.Client
}

// do sends req and decodes a 2xx JSON body into out, returning the raw body.
//
// Classification: transport failures, timeouts, 5xx responses and undecodable 2xx
// bodies are ambiguous; any other non-2xx status is a rejection.
func (t *transport) do(ctx context.Context, op string, req *http.Request, out any) (raw []byte, err error) {
	ctx, span := telemetry.Tracer.Start(ctx, t.provider+"."+op)
	span.SetAttributes(
		attribute.String("provider", t.provider),
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.Path),
	)
	defer func() {
		result := "success"
		if err != nil {
			result = "rejected"
			if pkgerrors.IsAmbiguous(err) {
				result = "ambiguous"
			}
		}
		telemetry.ProviderCalls.WithLabelValues(t.provider, op, result).Inc()
		telemetry.EndSpan(span, err)
	}()

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		telemetry.Logger.Error("Provider request failed",
			zap.String("provider", t.provider),
			zap.String("operation", op),
			zap.Error(err),
		)
		return nil, pkgerrors.Ambiguous(t.provider, op, 0, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Ambiguous(t.provider, op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.Logger.Error("Provider returned error status",
			zap.String("provider", t.provider),
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(raw)),
		)
		cause := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw))
		if resp.StatusCode >= 500 {
			return raw, pkgerrors.Ambiguous(t.provider, op, resp.StatusCode, cause)
		}
		return raw, pkgerrors.Rejected(t.provider, op, resp.StatusCode, cause)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, pkgerrors.Ambiguous(t.provider, op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
	}
	return raw, nil
}

func truncate(b []byte) []byte {
	if len(b) > maxErrorBody {
		return b[:maxErrorBody]
	}
	return b
}
