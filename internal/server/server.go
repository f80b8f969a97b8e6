package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/authserver/config"
	"github.com/storefront/authserver/internal/auth"
	"github.com/storefront/authserver/internal/db"
	"github.com/storefront/authserver/internal/handlers"
	"github.com/storefront/authserver/internal/mail"
	"github.com/storefront/authserver/internal/metrics"
	"github.com/storefront/authserver/internal/services"
	"github.com/storefront/authserver/internal/store"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mailCloser io.Closer
	logger     *slog.Logger
}

// New wires storage, mail delivery and the auth endpoints.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	var (
		dbConn *sql.DB
		repo   services.UserRepository
	)
	switch strings.ToLower(cfg.StoreDriver) {
	case StoreDriverMemory:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		repo = store.NewMemoryUserRepository()
	case StoreDriverPostgres, "":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		dbConn = conn
		repo = store.NewUserRepository(conn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}

	m := metrics.New()

	mailer, mailCloser, err := mail.Open(ctx, cfg, logger, m)
	if err != nil {
		closeDB(dbConn)
		return nil, fmt.Errorf("open mail backend: %w", err)
	}

	minter := auth.NewTokenMinter(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService, err := services.NewAuthService(repo, mailer, services.AuthOptions{
		Hasher:  auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Tokens:  minter,
		Resets:  auth.NewResetTokenManager(cfg.Auth.ResetTTL),
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		_ = mailCloser.Close()
		closeDB(dbConn)
		return nil, err
	}
	userService := services.NewUserService(repo)

	authHandler := handlers.NewAuthHandler(authService, userService, minter, handlers.AuthHandlerConfig{
		PublicURL: cfg.PublicURL,
		CookieTTL: cfg.Auth.CookieTTL,
		Logger:    logger,
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", m.Handler())
	router.Route(handlers.AuthMountPath, func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server configured",
		"port", port,
		"store", cfg.StoreDriver,
		"mail_backend", cfg.Mail.Backend,
	)

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		mailCloser: mailCloser,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.release()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the database and mail connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.release()
	return err
}

func (s *Server) release() {
	if s.mailCloser != nil {
		if err := s.mailCloser.Close(); err != nil {
			s.logger.Warn("closing mail backend", "error", err)
		}
		s.mailCloser = nil
	}
	closeDB(s.db)
	s.db = nil
}

func closeDB(conn *sql.DB) {
	if conn != nil {
		_ = conn.Close()
	}
}
