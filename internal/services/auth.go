package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"

	"github.com/storefront/authserver/internal/auth"
	"github.com/storefront/authserver/internal/mail"
	"github.com/storefront/authserver/internal/metrics"
	"github.com/storefront/authserver/internal/store"
	"github.com/storefront/authserver/types"
)

// MaxNameLength is the longest display name accepted at signup.
const MaxNameLength = 50

// Operation names used in logs and metrics.
const (
	OpSignup         = "signup"
	OpLogin          = "login"
	OpLogout         = "logout"
	OpForgotPassword = "forgot_password"
	OpResetPassword  = "reset_password"
)

// LogoutMessage acknowledges a logout.
const LogoutMessage = "Logged out"

// ResetEmailSubject is the subject line of password reset emails.
const ResetEmailSubject = "Password recovery"

// rollbackTimeout bounds the write that withdraws an undelivered reset token.
const rollbackTimeout = 5 * time.Second

// DefaultResetEmailTemplate renders the password reset email body.
const DefaultResetEmailTemplate = `Hello {{.Name}},

Your password reset link is:

{{.ResetURL}}

The link expires in {{.ExpiresIn}}. If you did not request a password reset, ignore this email.
`

// TokenIssuer mints session credentials.
type TokenIssuer interface {
	Issue(userID string, role types.Role) (string, error)
}

// AuthResult is returned by every operation that authenticates a user.
type AuthResult struct {
	Token string
	User  types.User
}

// AuthOptions carries the collaborators of AuthService besides storage and mail.
type AuthOptions struct {
	Hasher  auth.PasswordHasher
	Tokens  TokenIssuer
	Resets  *auth.ResetTokenManager
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// EmailTemplate overrides DefaultResetEmailTemplate.
	EmailTemplate string
}

// AuthService implements signup, login, logout and the forgot/reset
// password protocol.
type AuthService struct {
	users   UserRepository
	mailer  Mailer
	hasher  auth.PasswordHasher
	tokens  TokenIssuer
	resets  *auth.ResetTokenManager
	logger  *slog.Logger
	metrics *metrics.Metrics
	email   *template.Template
	now     func() time.Time

	// dummyHash is verified against when the email is unknown so that
	// login latency does not reveal which accounts exist.
	dummyHash string
}

// NewAuthService constructs an AuthService. Storage, mail, hasher, token
// issuer and reset manager are required.
func NewAuthService(users UserRepository, mailer Mailer, opts AuthOptions) (*AuthService, error) {
	switch {
	case users == nil:
		return nil, errors.New("user repository is required")
	case mailer == nil:
		return nil, errors.New("mailer is required")
	case opts.Hasher == nil:
		return nil, errors.New("password hasher is required")
	case opts.Tokens == nil:
		return nil, errors.New("token issuer is required")
	case opts.Resets == nil:
		return nil, errors.New("reset token manager is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	text := opts.EmailTemplate
	if text == "" {
		text = DefaultResetEmailTemplate
	}
	tmpl, err := template.New("reset-email").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse reset email template: %w", err)
	}

	dummyHash, err := opts.Hasher.Hash("timing-equalizer-password")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:     users,
		mailer:    mailer,
		hasher:    opts.Hasher,
		tokens:    opts.Tokens,
		resets:    opts.Resets,
		logger:    logger.With("component", "auth"),
		metrics:   opts.Metrics,
		email:     tmpl,
		now:       time.Now,
		dummyHash: dummyHash,
	}, nil
}

// Signup registers a new account with the default role and signs it in.
func (s *AuthService) Signup(ctx context.Context, name, email, password string) (result AuthResult, err error) {
	defer func() { s.metrics.RecordOperation(OpSignup, err) }()

	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if err := validateName(name); err != nil {
		return AuthResult{}, err
	}
	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}
	if err := validatePassword(password); err != nil {
		return AuthResult{}, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return AuthResult{}, errEmailTaken(email)
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, internalError(OpSignup, "GetByEmail", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return AuthResult{}, internalError(OpSignup, "Hash", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         name,
		Email:        email,
		Role:         types.DefaultRole,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, errEmailTaken(email)
		}
		return AuthResult{}, internalError(OpSignup, "Create", err)
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return s.authenticate(user)
}

// Login checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (result AuthResult, err error) {
	defer func() { s.metrics.RecordOperation(OpLogin, err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return AuthResult{}, oops.Code(auth.CodeValidation).Errorf("please enter email and password")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			return AuthResult{}, errInvalidCredentials()
		}
		return AuthResult{}, internalError(OpLogin, "GetByEmail", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return AuthResult{}, errInvalidCredentials()
	}

	return s.authenticate(user)
}

// Logout acknowledges the end of a session. Credentials are stateless, so
// the transport only needs to drop the client-side copy.
func (s *AuthService) Logout(_ context.Context) string {
	s.metrics.RecordOperation(OpLogout, nil)
	return LogoutMessage
}

// ForgotPassword issues a reset secret for the account behind email and
// mails a link built from resetURLBase. If the mail cannot be delivered
// the secret is withdrawn again.
func (s *AuthService) ForgotPassword(ctx context.Context, email, resetURLBase string) (message string, err error) {
	defer func() { s.metrics.RecordOperation(OpForgotPassword, err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return "", oops.Code(auth.CodeValidation).Errorf("email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", oops.Code(auth.CodeNotFound).Errorf("user not found with this email")
		}
		return "", internalError(OpForgotPassword, "GetByEmail", err)
	}

	secret, digest, expiry, err := s.resets.Generate()
	if err != nil {
		return "", internalError(OpForgotPassword, "Generate", err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, digest, expiry); err != nil {
		return "", internalError(OpForgotPassword, "SetResetToken", err)
	}

	msg, err := s.resetEmail(user, strings.TrimRight(resetURLBase, "/")+"/"+secret)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.rollbackReset(ctx, user.ID, digest)
		return "", oops.Code(auth.CodeDeliveryFailed).
			With("operation", OpForgotPassword).
			With("user_id", user.ID).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password reset requested", "user_id", user.ID, "expires_at", expiry)
	return fmt.Sprintf("Reset email sent to %s", user.Email), nil
}

// ResetPassword consumes a reset secret and replaces the password. The
// secret is single-use: the stored digest is cleared in the same write.
func (s *AuthService) ResetPassword(ctx context.Context, secret, newPassword, confirmPassword string) (result AuthResult, err error) {
	defer func() { s.metrics.RecordOperation(OpResetPassword, err) }()

	if newPassword != confirmPassword {
		return AuthResult{}, oops.Code(auth.CodeValidation).Errorf("passwords do not match")
	}
	if err := validatePassword(newPassword); err != nil {
		return AuthResult{}, err
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return AuthResult{}, errInvalidResetToken()
	}

	digest := s.resets.Digest(secret)
	user, err := s.users.GetByResetDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, errInvalidResetToken()
		}
		return AuthResult{}, internalError(OpResetPassword, "GetByResetDigest", err)
	}

	now := s.now()
	if !user.HasPendingReset() || !s.resets.Match(secret, *user.ResetTokenDigest, *user.ResetTokenExpiry, now) {
		return AuthResult{}, errInvalidResetToken()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return AuthResult{}, internalError(OpResetPassword, "Hash", err)
	}

	if err := s.users.ResetPassword(ctx, user.ID, digest, hash, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, errInvalidResetToken()
		}
		return AuthResult{}, internalError(OpResetPassword, "ResetPassword", err)
	}
	user.ReplacePassword(hash, now.UTC())

	s.logger.InfoContext(ctx, "password reset completed", "user_id", user.ID)
	return s.authenticate(user)
}

func (s *AuthService) authenticate(user types.User) (AuthResult, error) {
	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return AuthResult{}, oops.Code(auth.CodeSigningFailed).With("user_id", user.ID).Wrap(err)
	}
	return AuthResult{Token: token, User: user.Sanitized()}, nil
}

func (s *AuthService) rollbackReset(ctx context.Context, userID, digest string) {
	// Delivery usually fails because ctx is already done; the corrective
	// write must still reach the store.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	err := s.users.ClearResetToken(ctx, userID, digest)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "reset token withdrawn after delivery failure", "user_id", userID)
	case errors.Is(err, store.ErrNotFound):
		// A newer request already replaced the pair.
	default:
		s.logger.WarnContext(ctx, "failed to withdraw reset token", "user_id", userID, "error", err)
	}
}

type resetEmailData struct {
	Name      string
	ResetURL  string
	ExpiresIn time.Duration
}

func (s *AuthService) resetEmail(user types.User, resetURL string) (mail.Message, error) {
	var body bytes.Buffer
	if err := s.email.Execute(&body, resetEmailData{
		Name:      user.Name,
		ResetURL:  resetURL,
		ExpiresIn: s.resets.TTL(),
	}); err != nil {
		return mail.Message{}, fmt.Errorf("render reset email: %w", err)
	}
	return mail.Message{To: user.Email, Subject: ResetEmailSubject, Text: body.String()}, nil
}

func validateName(name string) error {
	if name == "" {
		return oops.Code(auth.CodeValidation).Errorf("please enter your name")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return oops.Code(auth.CodeValidation).Errorf("your name cannot exceed %d characters", MaxNameLength)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return oops.Code(auth.CodeValidation).Errorf("please enter your email")
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code(auth.CodeValidation).Errorf("please enter a valid email address")
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case password == "":
		return oops.Code(auth.CodeValidation).Errorf("please enter your password")
	case len(password) < auth.MinPasswordLength:
		return oops.Code(auth.CodeValidation).Errorf("your password must be at least %d characters", auth.MinPasswordLength)
	case len(password) > auth.MaxPasswordLength:
		return oops.Code(auth.CodeValidation).Errorf("your password must be at most %d bytes", auth.MaxPasswordLength)
	}
	return nil
}

func errEmailTaken(email string) error {
	return oops.Code(auth.CodeConflict).With("email", email).Errorf("email is already registered")
}

func errInvalidCredentials() error {
	return oops.Code(auth.CodeInvalidCredentials).Errorf("invalid credentials")
}

func errInvalidResetToken() error {
	return oops.Code(auth.CodeInvalidToken).Errorf("password reset token is invalid or has expired")
}

func internalError(operation, step string, err error) error {
	return oops.Code(auth.CodeInternal).
		With("operation", operation).
		With("step", step).
		Wrap(err)
}
