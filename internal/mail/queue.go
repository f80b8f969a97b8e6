package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/storefront/authserver/internal/mq"
)

// Publisher is the broker operation QueueSender needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueSender publishes messages as JSON envelopes for the mailer worker.
// Send returns once the broker has acknowledged the publish.
type QueueSender struct {
	publisher Publisher
	channel   string
}

func NewQueueSender(publisher Publisher, channel string) (*QueueSender, error) {
	if publisher == nil {
		return nil, errors.New("mail publisher is required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("mail channel is required")
	}
	return &QueueSender{publisher: publisher, channel: channel}, nil
}

func (q *QueueSender) Send(ctx context.Context, msg Message) error {
	data, err := EncodeEnvelope(msg)
	if err != nil {
		return err
	}
	if _, err := q.publisher.Publish(ctx, q.channel, data, map[string]string{
		mq.AttrContentType: "application/json",
	}); err != nil {
		return fmt.Errorf("publish mail to %s: %w", q.channel, err)
	}
	return nil
}
