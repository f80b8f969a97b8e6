package mail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/storefront/authserver/config"
	"github.com/storefront/authserver/internal/metrics"
	"github.com/storefront/authserver/internal/mq"
	"github.com/storefront/authserver/internal/storage"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the Sender selected by cfg.Mail.Backend. The returned closer
// releases broker connections and must be closed on shutdown.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (Sender, io.Closer, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Mail.Backend))

	var (
		sender Sender
		closer io.Closer = nopCloser{}
	)
	switch backend {
	case BackendSMTP:
		smtpSender, err := NewSMTPSender(cfg.Mail)
		if err != nil {
			return nil, nil, err
		}
		sender = smtpSender
	case BackendRabbitMQ, BackendPubSub:
		broker, err := mq.Open(ctx, backend, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", backend, err)
		}
		queue, err := NewQueueSender(broker, cfg.Mail.Channel)
		if err != nil {
			_ = broker.Close()
			return nil, nil, err
		}
		sender, closer = queue, broker
	case BackendMinio, BackendGCS:
		bucket, err := storage.Open(ctx, backend, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s outbox: %w", backend, err)
		}
		if c, ok := bucket.(io.Closer); ok {
			closer = c
		}
		outbox, err := NewOutboxSender(bucket, cfg.Mail.OutboxPrefix, cfg.Mail.From)
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		sender = outbox
	case BackendLog:
		sender = NewLogSender(logger)
	default:
		return nil, nil, fmt.Errorf("unsupported mail backend %q", cfg.Mail.Backend)
	}

	return Instrument(sender, backend, m), closer, nil
}
