package services

import (
	"context"
	"time"

	"github.com/storefront/authserver/internal/mail"
	"github.com/storefront/authserver/types"
)

// UserRepository defines persistence operations for user accounts.
// The reset writes are conditional so concurrent callers cannot both
// consume or roll back the same secret.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByResetDigest(ctx context.Context, digest string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)

	// SetResetToken overwrites any outstanding reset pair.
	SetResetToken(ctx context.Context, id, digest string, expiry time.Time) error
	// ClearResetToken drops the pair only while digest is still current.
	ClearResetToken(ctx context.Context, id, digest string) error
	// ResetPassword stores passwordHash and clears the pair only while
	// digest is current and unexpired at now.
	ResetPassword(ctx context.Context, id, digest, passwordHash string, now time.Time) error
}

// Mailer delivers outbound email.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// UserService exposes read access to accounts for authenticated callers.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

// GetByID returns the account without credential material.
func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	return user.Sanitized(), nil
}
