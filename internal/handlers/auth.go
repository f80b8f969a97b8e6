package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/authserver/internal/auth"
	"github.com/storefront/authserver/internal/services"
	"github.com/storefront/authserver/internal/store"
	"github.com/storefront/authserver/types"
)

// AuthMountPath is where AuthRouter is mounted; reset links point below it.
const AuthMountPath = "/api/auth"

// TokenCookieName is the cookie carrying the session credential.
const TokenCookieName = "token"

const defaultCookieTTL = 72 * time.Hour

// TokenVerifier validates session credentials.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// AuthHandlerConfig holds transport settings for the auth endpoints.
type AuthHandlerConfig struct {
	// PublicURL is the externally reachable base URL. When empty, reset
	// links are built from the request.
	PublicURL string
	CookieTTL time.Duration
	Logger    *slog.Logger
}

// AuthHandler provides the authentication endpoints.
type AuthHandler struct {
	authService *services.AuthService
	userService *services.UserService
	tokens      TokenVerifier
	publicURL   string
	cookieTTL   time.Duration
	logger      *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	authService *services.AuthService,
	userService *services.UserService,
	tokens TokenVerifier,
	cfg AuthHandlerConfig,
) *AuthHandler {
	ttl := cfg.CookieTTL
	if ttl <= 0 {
		ttl = defaultCookieTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		userService: userService,
		tokens:      tokens,
		publicURL:   strings.TrimRight(cfg.PublicURL, "/"),
		cookieTTL:   ttl,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	r.Post("/signup", h.Signup)
	r.Post("/login", h.Login)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
	r.Post("/password/forgot", h.ForgotPassword)
	r.Post("/password/reset/{token}", h.ResetPassword)
	r.With(h.RequireAuth).Get("/me", h.Me)
}

// RequireAuth accepts a bearer credential or the token cookie and injects
// the subject into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := requestToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "login first to access this resource")
			return
		}

		claims, err := h.tokens.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "login first to access this resource")
			return
		}

		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), claims.UserID())))
	})
}

// Signup creates a new account and signs it in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.authService.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAuthResult(w, result)
}

// Login verifies credentials and signs the user in.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAuthResult(w, result)
}

// Logout expires the credential cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	message := h.authService.Logout(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: message})
}

// ForgotPassword mails a password reset link.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	message, err := h.authService.ForgotPassword(r.Context(), req.Email, h.resetURLBase(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: message})
}

// ResetPassword consumes a reset secret from the URL and sets a new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.authService.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password, req.ConfirmPassword)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeAuthResult(w, result)
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "login first to access this resource")
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "login first to access this resource")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type AuthResponse struct {
	Success bool       `json:"success"`
	Token   string     `json:"token"`
	User    types.User `json:"user"`
}

type UserResponse struct {
	Success bool       `json:"success"`
	User    types.User `json:"user"`
}

func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, result services.AuthResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    result.Token,
		Path:     "/",
		Expires:  time.Now().Add(h.cookieTTL),
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Token: result.Token, User: result.User})
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.Code(err)
	status := statusForCode(code)
	if status < http.StatusInternalServerError {
		writeError(w, status, err.Error())
		return
	}

	h.logger.ErrorContext(r.Context(), "auth request failed", "code", code, "path", r.URL.Path, "error", err)
	switch code {
	case auth.CodeDeliveryFailed:
		writeError(w, status, "email could not be sent")
	case auth.CodeSigningFailed:
		writeError(w, status, "failed to create token")
	default:
		writeError(w, status, "internal server error")
	}
}

func statusForCode(code string) int {
	switch code {
	case auth.CodeValidation, auth.CodeInvalidCredentials, auth.CodeInvalidToken:
		return http.StatusBadRequest
	case auth.CodeConflict:
		return http.StatusConflict
	case auth.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *AuthHandler) resetURLBase(r *http.Request) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + AuthMountPath + "/password/reset"
}

func (h *AuthHandler) secureCookies() bool {
	return strings.HasPrefix(h.publicURL, "https://")
}

func requestToken(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return bearerToken(header)
	}
	cookie, err := r.Cookie(TokenCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", errors.New("missing credential")
	}
	return cookie.Value, nil
}

func bearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
