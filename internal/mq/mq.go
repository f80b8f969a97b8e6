package mq

import (
	"context"
	"fmt"
	"strings"

	"github.com/storefront/authserver/config"
)

// Supported broker kinds.
const (
	KindRabbitMQ = "rabbitmq"
	KindPubSub   = "pubsub"
)

// AttrContentType is the attribute carrying the payload media type.
const AttrContentType = "content-type"

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker operations used by the mail pipeline:
// the API publishes outbound mail, the mailer worker subscribes.
type Backend interface {
	// Publish returns once the broker has accepted the message.
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Open connects to the broker named by kind.
func Open(ctx context.Context, kind string, cfg config.Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindRabbitMQ:
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return client, nil
	case KindPubSub:
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported message broker %q", kind)
	}
}
