package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange all health events go to.
const Exchange = "hitcounter.health"

// envelope wraps every event with its type so consumers can dispatch on it.
type envelope struct {
	MessageID string    `json:"messageId"`
	Type      string    `json:"type"`
	SentTime  time.Time `json:"sentTime"`
	Source    string    `json:"source"`
	Message   any       `json:"message"`
}

// Publisher sends events to RabbitMQ. A Publisher built with an empty URL
// only logs what it would have sent.
type Publisher struct {
	source string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects to url and declares the exchange. If url is empty,
// it returns a no-op publisher.
func NewPublisher(url, source string, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{source: source, logger: logger}

	if url == "" {
		logger.Info("RabbitMQ URL not configured, using no-op publisher")
		return p, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	p.conn, p.ch = conn, ch
	return p, nil
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// Publish sends one event. The routing key is derived from the event type.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	routingKey, msg, err := p.message(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		p.logger.Info("event published (no-op)", "type", msg.Type, "routing_key", routingKey, "message_id", msg.MessageId)
		return nil
	}

	if err := p.ch.PublishWithContext(ctx, Exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// message builds the AMQP publishing for event. The envelope and the AMQP
// properties carry the same message ID.
func (p *Publisher) message(event any) (string, amqp.Publishing, error) {
	typeName, routingKey := eventMeta(event)
	messageID := NewEventID()
	now := time.Now().UTC()

	body, err := json.Marshal(envelope{
		MessageID: messageID,
		Type:      typeName,
		SentTime:  now,
		Source:    p.source,
		Message:   event,
	})
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}

	return routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    now,
		Type:         typeName,
		Body:         body,
	}, nil
}

// Close shuts down the AMQP channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func eventMeta(event any) (typeName, routingKey string) {
	switch event.(type) {
	case HealthChangedEvent, *HealthChangedEvent:
		return "HealthChanged", "health.service.changed"
	case DependencyHealthChangedEvent, *DependencyHealthChangedEvent:
		return "DependencyHealthChanged", "health.dependency.changed"
	default:
		return "Unknown", "health.unknown"
	}
}
