package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers batches of notifications to a downstream system.
type Publisher interface {
	Publish(ctx context.Context, batch []Notification) error
	Close() error
}

// message is the per-recipient payload written to Kafka.
type message struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	Kind           Kind              `json:"kind"`
	UserID         uuid.UUID         `json:"user_id"`
	Data           map[string]string `json:"data,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// KafkaPublisher writes one message per recipient, keyed by user id so a
// user's notifications stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a synchronous producer that waits for all replicas.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, batch []Notification) error {
	msgs, err := encodeMessages(batch)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeMessages(batch []Notification) ([]kafka.Message, error) {
	var msgs []kafka.Message
	for _, n := range batch {
		for _, userID := range n.UserIDs {
			value, err := json.Marshal(message{
				NotificationID: n.ID,
				Kind:           n.Kind,
				UserID:         userID,
				Data:           n.Data,
				CreatedAt:      n.CreatedAt,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal notification %s: %w", n.ID, err)
			}
			msgs = append(msgs, kafka.Message{
				Key:   []byte(userID.String()),
				Value: value,
				Headers: []kafka.Header{
					{Key: "kind", Value: []byte(n.Kind)},
				},
			})
		}
	}
	return msgs, nil
}

// LogPublisher writes notifications to a logger. Used when no brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, batch []Notification) error {
	for _, n := range batch {
		p.logger.InfoContext(ctx, "notification",
			"id", n.ID,
			"kind", n.Kind,
			"recipients", len(n.UserIDs),
			"data", n.Data,
		)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
