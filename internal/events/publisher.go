// Package events publishes chat domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/PaulBabatuyi/directchat/internal/observability"
)

// Routing keys.
const (
	UserSignedIn         = "directchat.user.signed_in"
	ConversationResolved = "directchat.conversation.resolved"
	MessageSent          = "directchat.message.sent"
)

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	TraceID       string `json:"trace_id,omitempty"`
	Payload       any    `json:"payload"`
}

// NewPublisher builds a RabbitMQ publisher, or a noop publisher when AMQP
// is disabled or unreachable.
func NewPublisher(amqpURL, exchange string, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if amqpURL == "" {
		logger.Info("rabbitmq disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{logger: logger}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", "err", err)
		return noopPublisher{logger: logger}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", "err", err)
		_ = conn.Close()
		return noopPublisher{logger: logger}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Warn("rabbitmq disabled, using noop", "err", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{logger: logger}
	}

	logger.Info("rabbitmq connected", "exchange", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	logger *slog.Logger
}

func (n noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	n.logger.Debug("noop publish", "routing_key", routingKey)
	return nil
}

func (noopPublisher) Close() error { return nil }

// Emit wraps payload in an Envelope and publishes it. A nil publisher is a
// no-op; publish failures are logged and counted, never returned.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, routingKey string, payload any) {
	if p == nil {
		return
	}
	env := Envelope{
		SchemaVersion: 1,
		EventType:     routingKey,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:       observability.TraceID(ctx),
		Payload:       payload,
	}
	if err := p.Publish(ctx, routingKey, env); err != nil {
		observability.IncAMQPPublishError()
		if logger != nil {
			logger.Warn("event publish failed", "routing_key", routingKey, "err", err)
		}
	}
}
