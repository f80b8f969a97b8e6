package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/authserver/config"
)

func testConfig() config.Config {
	return config.Config{
		StoreDriver: StoreDriverMemory,
		Auth: config.AuthConfig{
			JWTSecret:  "server-test-secret",
			BcryptCost: 4,
		},
		Mail: config.MailConfig{Backend: "log"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresJWTSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "  "

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestNew_RejectsUnknownDrivers(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "sqlite"
	_, err := New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Mail.Backend = "fax"
	_, err = New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestRouter_ServesAuthHealthAndMetrics(t *testing.T) {
	srv, err := New(context.Background(), testConfig(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"name":"Ana","email":"ana@x.io","password":"hunter22x"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `authserver_auth_operations_total{operation="signup",outcome="success"} 1`)
}
