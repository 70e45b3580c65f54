// Package events publishes authentication lifecycle notifications. Delivery
// is best effort: a failed publish is logged and never fails the operation
// that triggered it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	SessionCreated     = "session.created"
	MagicLinkIssued    = "magic_link.issued"
	MagicLinkRedeemed  = "magic_link.redeemed"
	CredentialStored   = "credential.stored"
	CredentialDeleted  = "credential.deleted"
	OAuthTokenIssued   = "oauth.token_issued"
	OAuthClientCreated = "oauth.client_registered"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "monarch.auth"

// Event is a single lifecycle notification. It never carries secrets.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	UserID   string    `json:"user_id,omitempty"`
	ClientID string    `json:"client_id,omitempty"`
	At       time.Time `json:"at"`
}

// New builds an event of type typ for userID.
func New(typ, userID string) Event {
	return Event{ID: uuid.NewString(), Type: typ, UserID: userID, At: time.Now().UTC()}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Emit publishes evt and logs instead of returning on failure.
func Emit(ctx context.Context, p Publisher, evt Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Str("event", evt.Type).Str("user_id", evt.UserID).Msg("failed to publish event")
	}
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a topic exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func newAMQPPublisherWithChannel(ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{channel: ch, exchange: exchange}
}

// Publish sends evt as JSON with the event type as routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx, p.exchange, evt.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.At,
		Type:         evt.Type,
		Body:         body,
	})
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewPublisherFromEnv connects to AMQP_URL when set and otherwise returns a
// NopPublisher.
func NewPublisherFromEnv() (Publisher, error) {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		return NopPublisher{}, nil
	}
	p, err := NewAMQPPublisher(url, os.Getenv("AMQP_EXCHANGE"))
	if err != nil {
		return nil, err
	}
	log.Info().Str("exchange", p.exchange).Msg("publishing auth events to RabbitMQ")
	return p, nil
}
