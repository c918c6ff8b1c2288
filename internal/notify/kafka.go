package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications to a Kafka topic, keyed by
// recipient so one recipient's events stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
}

// event is the wire form of a notification.
type event struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Message     string    `json:"message"`
	Notification
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier requires a topic")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

// Notify implements Notifier.
func (k *KafkaNotifier) Notify(ctx context.Context, recipientID uuid.UUID, n Notification) error {
	payload, err := json.Marshal(event{
		RecipientID:  recipientID,
		Message:      n.Message(),
		Notification: n,
	})
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", n.Type, err)
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipientID.String()),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}); err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Type, err)
	}
	return nil
}

// Close flushes pending writes and releases the connection.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
