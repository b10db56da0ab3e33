package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the outbound boundary to the messaging broker. Publishing is
// best-effort: callers log failures instead of rolling the mutation back.
type Publisher interface {
	PublishPermissionChange(ctx context.Context, event PermissionChangeEvent) error
}

// NoopPublisher drops events when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishPermissionChange(ctx context.Context, event PermissionChangeEvent) error {
	return nil
}

// RabbitMQConnection holds an open connection plus channel
type RabbitMQConnection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

// NewRabbitMQConnection dials the broker and opens a channel
func NewRabbitMQConnection(url string) (*RabbitMQConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	return &RabbitMQConnection{Connection: conn, Channel: channel}, nil
}

// Close closes the channel and connection
func (c *RabbitMQConnection) Close() error {
	if c.Channel != nil {
		c.Channel.Close()
	}
	if c.Connection != nil {
		return c.Connection.Close()
	}
	return nil
}

// PermissionPublisher publishes permission change events to RabbitMQ. The
// counters are atomics because handlers publish concurrently.
type PermissionPublisher struct {
	conn              *RabbitMQConnection
	messagesPublished atomic.Int64
	messagesFailed    atomic.Int64
	lastPublishNano   atomic.Int64
}

// NewPermissionPublisher creates a new permission event publisher
func NewPermissionPublisher(conn *RabbitMQConnection) *PermissionPublisher {
	p := &PermissionPublisher{conn: conn}
	p.lastPublishNano.Store(time.Now().UnixNano())
	return p
}

// PublishPermissionChange publishes a change event to the permission_events queue
func (p *PermissionPublisher) PublishPermissionChange(ctx context.Context, event PermissionChangeEvent) error {
	// Ensure the queue exists
	_, err := p.conn.Channel.QueueDeclare(
		PermissionQueue, // queue name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to marshal permission event: %w", err)
	}

	err = p.conn.Channel.PublishWithContext(
		ctx,
		"",              // exchange
		PermissionQueue, // routing key (queue name)
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to publish permission event: %w", err)
	}

	p.messagesPublished.Add(1)
	p.lastPublishNano.Store(time.Now().UnixNano())

	slog.Info("Permission event published",
		"queue", PermissionQueue,
		"event_type", event.EventType,
		"subject_id", event.SubjectID,
	)

	return nil
}

// GetMetrics returns publisher metrics
func (p *PermissionPublisher) GetMetrics() map[string]any {
	return map[string]any{
		"messages_published": p.messagesPublished.Load(),
		"messages_failed":    p.messagesFailed.Load(),
		"last_publish_time":  time.Unix(0, p.lastPublishNano.Load()),
		"queue":              PermissionQueue,
	}
}
