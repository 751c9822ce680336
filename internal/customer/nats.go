// Package customer checks customer references against the customer service over NATS.
package customer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
)

const ExistsSubject = "customer.exists"

type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type existsRequest struct {
	ExternalID string `json:"external_id"`
}

type existsReply struct {
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}

// NATSDirectory asks the customer service whether an external id is known.
type NATSDirectory struct {
	conn    requester
	timeout time.Duration
}

func NewNATSDirectory(conn *nats.Conn, timeout time.Duration) *NATSDirectory {
	return &NATSDirectory{conn: conn, timeout: timeout}
}

func (d *NATSDirectory) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	payload, err := json.Marshal(existsRequest{ExternalID: externalID})
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.conn.RequestWithContext(ctx, ExistsSubject, payload)
	if err != nil {
		telemetry.Logger.Warn("Customer lookup failed",
			zap.String("customer_id", externalID),
			zap.Error(err),
		)
		return false, fmt.Errorf("request %s: %w", ExistsSubject, err)
	}

	var reply existsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, fmt.Errorf("decode %s reply: %w", ExistsSubject, err)
	}
	if reply.Error != "" {
		return false, fmt.Errorf("customer service: %s", reply.Error)
	}
	return reply.Exists, nil
}
