package store

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storefront/authserver/types"
)

// MemoryUserRepository keeps users in process memory. A single mutex
// serializes every read-modify-write, matching the per-row atomicity of
// the PostgreSQL repository. Used by tests and STORE_DRIVER=memory.
type MemoryUserRepository struct {
	mu      sync.Mutex
	byID    map[string]types.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]types.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryUserRepository) GetByResetDigest(_ context.Context, digest string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if digest == "" {
		return types.User{}, ErrNotFound
	}
	for _, user := range r.byID {
		if user.ResetTokenDigest != nil && *user.ResetTokenDigest == digest {
			return cloneUser(user), nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return types.User{}, ErrConflict
	}
	if user.ID == "" {
		user.ID = ulid.Make().String()
	}
	if _, exists := r.byID[user.ID]; exists {
		return types.User{}, ErrConflict
	}
	if !user.Role.Valid() {
		user.Role = types.DefaultRole
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = cloneUser(user)
	r.byEmail[user.Email] = user.ID
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	if user.Email != current.Email {
		if _, taken := r.byEmail[user.Email]; taken {
			return types.User{}, ErrConflict
		}
		delete(r.byEmail, current.Email)
		r.byEmail[user.Email] = user.ID
	}
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	r.byID[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (r *MemoryUserRepository) SetResetToken(_ context.Context, id, digest string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.SetResetToken(digest, expiry, time.Now().UTC())
	r.byID[id] = user
	return nil
}

func (r *MemoryUserRepository) ClearResetToken(_ context.Context, id, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok || user.ResetTokenDigest == nil || *user.ResetTokenDigest != digest {
		return ErrNotFound
	}
	user.ClearResetToken(time.Now().UTC())
	r.byID[id] = user
	return nil
}

func (r *MemoryUserRepository) ResetPassword(_ context.Context, id, digest, passwordHash string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok || !user.HasPendingReset() {
		return ErrNotFound
	}
	if *user.ResetTokenDigest != digest || !now.Before(*user.ResetTokenExpiry) {
		return ErrNotFound
	}
	user.ReplacePassword(passwordHash, now.UTC())
	r.byID[id] = user
	return nil
}

// cloneUser copies the reset pointers so callers never alias stored state.
func cloneUser(user types.User) types.User {
	if user.ResetTokenDigest != nil {
		d := *user.ResetTokenDigest
		user.ResetTokenDigest = &d
	}
	if user.ResetTokenExpiry != nil {
		e := *user.ResetTokenExpiry
		user.ResetTokenExpiry = &e
	}
	return user
}
