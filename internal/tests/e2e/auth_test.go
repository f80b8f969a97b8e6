//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/storefront/authserver/config"
	"github.com/storefront/authserver/internal/db"
	"github.com/storefront/authserver/internal/logging"
	"github.com/storefront/authserver/internal/server"
	"github.com/storefront/authserver/internal/storage"
)

const serverPort = 18080

var (
	baseURL    = fmt.Sprintf("http://localhost:%d", serverPort)
	resetLink  = regexp.MustCompile(`/api/auth/password/reset/([0-9a-f]{64})`)
	outboxKeys *storage.MinioClient
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres", "minio"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}
	shutdown := func(code int) {
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(code)
	}

	setEnv()
	cfg := config.LoadConfig()

	if err := waitForPostgres(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		shutdown(1)
	}
	if err := runMigrations(root, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		shutdown(1)
	}

	outboxKeys, err = storage.NewMinioClient(cfg.Minio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create minio client: %v\n", err)
		shutdown(1)
	}

	srvCtx, stopServer := context.WithCancel(context.Background())
	done, err := startServer(srvCtx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		stopServer()
		shutdown(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		stopServer()
		<-done
		shutdown(1)
	}

	code := m.Run()

	stopServer()
	<-done
	shutdown(code)
}

func TestPasswordResetLifecycle(t *testing.T) {
	email := fmt.Sprintf("ana_%d@x.io", time.Now().UnixNano())

	status, body := postJSON(t, "/api/auth/signup", map[string]string{
		"name": "Ana", "email": email, "password": "hunter22x",
	})
	if status != http.StatusOK || body.Token == "" {
		t.Fatalf("signup: status %d, body %+v", status, body)
	}

	status, body = postJSON(t, "/api/auth/signup", map[string]string{
		"name": "Ana", "email": email, "password": "hunter22x",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d (%s)", status, body.Message)
	}

	status, body = postJSON(t, "/api/auth/login", map[string]string{"email": email, "password": "hunter22x"})
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", status, body.Message)
	}

	startedAt := time.Now().UTC().Add(-time.Second)
	status, body = postJSON(t, "/api/auth/password/forgot", map[string]string{"email": email})
	if status != http.StatusOK {
		t.Fatalf("forgot: expected 200, got %d (%s)", status, body.Message)
	}
	if want := "Reset email sent to " + email; body.Message != want {
		t.Fatalf("forgot: expected message %q, got %q", want, body.Message)
	}

	secret, err := latestResetSecret(t, email, startedAt)
	if err != nil {
		t.Fatalf("read outbox: %v", err)
	}

	resetPath := "/api/auth/password/reset/" + secret
	status, body = postJSON(t, resetPath, map[string]string{"password": "n3wPassw0rd", "confirmPassword": "n3wPassw0rd"})
	if status != http.StatusOK || body.Token == "" {
		t.Fatalf("reset: status %d, body %+v", status, body)
	}

	status, _ = postJSON(t, resetPath, map[string]string{"password": "again1234", "confirmPassword": "again1234"})
	if status != http.StatusBadRequest {
		t.Fatalf("reused reset secret: expected 400, got %d", status)
	}

	status, _ = postJSON(t, "/api/auth/login", map[string]string{"email": email, "password": "hunter22x"})
	if status != http.StatusBadRequest {
		t.Fatalf("old password: expected 400, got %d", status)
	}
	status, _ = postJSON(t, "/api/auth/login", map[string]string{"email": email, "password": "n3wPassw0rd"})
	if status != http.StatusOK {
		t.Fatalf("new password: expected 200, got %d", status)
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

func postJSON(t *testing.T, path string, payload any) (int, apiResponse) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, out
}

// latestResetSecret scans outbox objects written after since for a reset
// mail addressed to email.
func latestResetSecret(t *testing.T, email string, since time.Time) (string, error) {
	t.Helper()
	ctx := context.Background()
	prefix := os.Getenv("MAIL_OUTBOX_PREFIX")

	keys, err := outboxKeys.Keys(ctx, prefix)
	if err != nil {
		return "", err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	cutoff := prefix + since.Format("20060102T150405Z")
	for _, key := range keys {
		if key < cutoff {
			break
		}
		reader, err := outboxKeys.Get(ctx, key)
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(reader)
		_ = reader.Close()
		if err != nil {
			return "", err
		}
		if !bytes.Contains(data, []byte("To: "+email)) {
			continue
		}
		if match := resetLink.FindSubmatch(data); match != nil {
			return string(match[1]), nil
		}
	}
	return "", errors.New("no reset mail found for " + email)
}

func setEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("STORE_DRIVER", "postgres")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "storefront")
	_ = os.Setenv("DB_PASSWORD", "storefront")
	_ = os.Setenv("DB_NAME", "storefront_auth")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("AUTH_BCRYPT_COST", "4")
	_ = os.Setenv("MAIL_BACKEND", "minio")
	_ = os.Setenv("MAIL_OUTBOX_PREFIX", "e2e-outbox/")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "storefront-mail")
	_ = os.Setenv("LOG_FORMAT", "text")
}

func waitForPostgres(ctx context.Context, cfg config.Config) error {
	conn, err := sql.Open("postgres", db.URL(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string, cfg config.Config) error {
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.URL(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func startServer(ctx context.Context, cfg config.Config) (<-chan struct{}, error) {
	logger := logging.Setup("authserver-e2e", cfg.Log.Format, cfg.Log.Level, os.Stderr)
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	return done, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
