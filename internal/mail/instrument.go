package mail

import (
	"context"

	"github.com/storefront/authserver/internal/metrics"
)

type instrumentedSender struct {
	next    Sender
	backend string
	metrics *metrics.Metrics
}

// Instrument counts every delivery attempt of next under the backend label.
func Instrument(next Sender, backend string, m *metrics.Metrics) Sender {
	if m == nil {
		return next
	}
	return &instrumentedSender{next: next, backend: backend, metrics: m}
}

func (s *instrumentedSender) Send(ctx context.Context, msg Message) error {
	err := s.next.Send(ctx, msg)
	s.metrics.RecordDelivery(s.backend, err)
	return err
}
