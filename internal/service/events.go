package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types published for the generation pipeline and downstream consumers.
const (
	EventEntitlementGranted = "entitlement.granted"
	EventJobCreated         = "generation.job.created"
	EventPaymentRefunded    = "payment.refunded"
)

type PaymentEvent struct {
	Type      string    `json:"type"`
	PaymentID uint      `json:"payment_id"`
	UserID    uint      `json:"user_id"`
	JobID     uint      `json:"job_id,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Units     int       `json:"units,omitempty"`
	Amount    int64     `json:"amount_cents,omitempty"`
	At        time.Time `json:"at"`
}

// EventPublisher emits payment lifecycle events to Kafka. A nil publisher is
// disabled; publish failures are logged and never block a transition.
type EventPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewEventPublisher(brokers []string, topic string, log *zap.Logger) *EventPublisher {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil
	}
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		log: log,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, ev PaymentEvent) {
	if p == nil {
		return
	}
	ev.At = time.Now()
	value, err := json.Marshal(ev)
	if err != nil {
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Type),
		Value: value,
	})
	if err != nil {
		p.log.Warn("event publish failed",
			zap.String("type", ev.Type),
			zap.Uint("payment_id", ev.PaymentID),
			zap.Error(err))
	}
}

func (p *EventPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
