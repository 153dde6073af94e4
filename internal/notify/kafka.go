package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is satisfied by *kafka.Writer
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes every event to a topic keyed by ride id, so one
// ride's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaPublisher creates a publisher for the given brokers and topic
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(w)
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (p *KafkaPublisher) Notify(ctx context.Context, to Recipient, event Event) error {
	body, err := json.Marshal(newEnvelope(to, event))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RideID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
