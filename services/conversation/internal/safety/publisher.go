package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	moderationExchange = "moderation"
	routingKeyFlagged  = "message.flagged"
)

// Event is the moderation record emitted when a message is stored with
// the flag set.
type Event struct {
	MessageID string    `json:"messageId"`
	BookingID string    `json:"bookingId"`
	SenderID  string    `json:"senderId"`
	Matches   []string  `json:"matches"`
	CreatedAt time.Time `json:"createdAt"`
}

// Publisher emits moderation events. Implementations must be best
// effort; a publish failure never fails the message send.
type Publisher interface {
	PublishFlagged(ctx context.Context, event Event) error
	Close() error
}

// AMQPPublisher publishes moderation events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher connects and declares the moderation exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(moderationExchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel}, nil
}

// PublishFlagged emits one flagged-message event.
func (p *AMQPPublisher) PublishFlagged(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, moderationExchange, routingKeyFlagged, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

// PublishFlagged logs the event instead of delivering it.
func (NopPublisher) PublishFlagged(_ context.Context, event Event) error {
	slog.Info("moderation event dropped, no broker configured", "messageId", event.MessageID, "matches", event.Matches)
	return nil
}

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
