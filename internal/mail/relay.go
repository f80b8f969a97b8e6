package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/storefront/authserver/internal/mq"
)

// Subscriber is the broker operation Relay needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Relay consumes queued envelopes and hands them to a Sender. Transient
// send failures are nacked for redelivery. Malformed envelopes and
// permanent failures are acked and dropped.
type Relay struct {
	subscriber Subscriber
	channel    string
	sender     Sender
	logger     *slog.Logger
	// retryDelay is waited out before a transient failure is nacked.
	retryDelay time.Duration
}

const defaultRetryDelay = 5 * time.Second

func NewRelay(subscriber Subscriber, channel string, sender Sender, logger *slog.Logger) (*Relay, error) {
	if subscriber == nil {
		return nil, errors.New("relay subscriber is required")
	}
	if sender == nil {
		return nil, errors.New("relay sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		subscriber: subscriber,
		channel:    channel,
		sender:     sender,
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "mail relay started", "channel", r.channel)
	err := r.subscriber.Subscribe(ctx, r.channel, r.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes a single queued envelope.
func (r *Relay) Handle(ctx context.Context, in mq.Message) error {
	msg, err := DecodeEnvelope(in.Data)
	if err != nil {
		r.logger.WarnContext(ctx, "dropping malformed mail envelope", "message_id", in.ID, "error", err)
		return nil
	}
	if err := r.sender.Send(ctx, msg); err != nil {
		if IsPermanent(err) {
			r.logger.ErrorContext(ctx, "dropping undeliverable mail", "message_id", in.ID, "to", msg.To, "error", err)
			return nil
		}
		r.logger.WarnContext(ctx, "mail delivery failed, requeueing", "message_id", in.ID, "to", msg.To, "error", err)
		r.backoff(ctx)
		return err
	}
	r.logger.DebugContext(ctx, "mail delivered", "message_id", in.ID, "to", msg.To)
	return nil
}

func (r *Relay) backoff(ctx context.Context) {
	if r.retryDelay <= 0 {
		return
	}
	timer := time.NewTimer(r.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
