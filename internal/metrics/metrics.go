// Package metrics holds the Prometheus collectors for the auth server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups the application collectors and the private registry
// they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	AuthOperations *prometheus.CounterVec
	MailDeliveries *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors plus the
// application counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authserver_auth_operations_total",
				Help: "Total number of authentication operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		MailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authserver_mail_deliveries_total",
				Help: "Total number of outbound mail deliveries by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
	}
	registry.MustRegister(m.AuthOperations, m.MailDeliveries)
	return m
}

// RecordOperation counts one auth operation. A nil receiver is a no-op so
// services can run without metrics in tests.
func (m *Metrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome(err)).Inc()
}

// RecordDelivery counts one mail delivery attempt.
func (m *Metrics) RecordDelivery(backend string, err error) {
	if m == nil {
		return
	}
	m.MailDeliveries.WithLabelValues(backend, outcome(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
