package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	m := New()

	m.RecordOperation("login", nil)
	m.RecordOperation("login", errors.New("boom"))
	m.RecordOperation("login", errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthOperations.WithLabelValues("login", OutcomeSuccess)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthOperations.WithLabelValues("login", OutcomeFailure)))
}

func TestRecordDelivery(t *testing.T) {
	m := New()

	m.RecordDelivery("smtp", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MailDeliveries.WithLabelValues("smtp", OutcomeSuccess)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("signup", nil)
		m.RecordDelivery("log", nil)
	})
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.RecordOperation("signup", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `authserver_auth_operations_total{operation="signup",outcome="success"} 1`)
}
