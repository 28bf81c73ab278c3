// Package notification публикует события платформы во внешний канал Kafka.
// Доставка работает по принципу fire-and-forget: сбой публикации никогда
// не влияет на уже зафиксированную операцию.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Виды событий платформы.
const (
	EventBookingPriced         = "booking_priced"
	EventBookingConfirmed      = "booking_confirmed"
	EventBookingRejected       = "booking_rejected"
	EventBookingCompleted      = "booking_completed"
	EventPaymentCaptured       = "payment_captured"
	EventWalletRequestApproved = "wallet_request_approved"
	EventWalletRequestRejected = "wallet_request_rejected"
	EventReviewPosted          = "review_posted"
)

// Event описывает одно событие платформы.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SubjectID  int64     `json:"subject_id"`
	Amount     string    `json:"amount,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher отправляет события в топик Kafka.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher создаёт издателя событий для указанных брокеров и топика.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish отправляет событие в топик.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Kind),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Close закрывает соединение с брокерами.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
