// Package events publishes transaction state changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
	"github.com/akylbek/payment-system/payment-gateway/internal/telemetry"
)

const DefaultTopic = "payment.state.changed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per state change, keyed by transaction id so a
// transaction's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, topic: topic}
}

func (p *KafkaPublisher) PublishStateChange(ctx context.Context, event models.StateChangeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal state change: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "provider", Value: []byte(event.Provider)},
			{Key: "state", Value: []byte(event.State)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		telemetry.Logger.Error("Failed to publish state change",
			zap.String("topic", p.topic),
			zap.String("transaction_id", event.TransactionID),
			zap.String("state", string(event.State)),
			zap.Error(err),
		)
		return fmt.Errorf("publish state change: %w", err)
	}

	telemetry.Logger.Debug("State change published",
		zap.String("topic", p.topic),
		zap.String("transaction_id", event.TransactionID),
		zap.String("state", string(event.State)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events. It is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStateChange(context.Context, models.StateChangeEvent) error { return nil }
