package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is satisfied by *amqp.Channel
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes events on a topic exchange with routing key
// ride.<kind>.<role>, so consumers can bind to e.g. "ride.*.driver".
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	timeout  time.Duration
}

// NewRabbitPublisher dials the broker and declares the exchange
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newRabbitPublisher(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, exchange string) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitPublisher{channel: ch, exchange: exchange, timeout: 2 * time.Second}, nil
}

// RoutingKey returns the topic routing key for an event
func RoutingKey(to Recipient, kind Kind) string {
	return fmt.Sprintf("ride.%s.%s", kind, to.Role)
}

func (p *RabbitPublisher) Notify(ctx context.Context, to Recipient, event Event) error {
	body, err := json.Marshal(newEnvelope(to, event))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(to, event.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.At,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}
	return nil
}

// Close closes the channel and connection
func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}
