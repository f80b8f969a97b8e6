package types

import (
	"strings"
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// DefaultRole is assigned to every account created through signup.
const DefaultRole = RoleUser

// Valid reports whether r belongs to the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole maps a stored or claimed role onto the closed set,
// falling back to DefaultRole.
func ParseRole(value string) Role {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	if !role.Valid() {
		return DefaultRole
	}
	return role
}

// User represents an account in the system.
// It contains identity, role, credential state and audit metadata.
type User struct {
	// ID is the unique identifier of the user (a ULID).
	ID string `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is unique across accounts
	// and matched exactly as stored.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// ResetTokenDigest is the digest of the outstanding password reset
	// secret. Set together with ResetTokenExpiry, or not at all.
	ResetTokenDigest *string `json:"-" db:"reset_token_digest"`

	// ResetTokenExpiry is when the outstanding reset secret stops matching.
	ResetTokenExpiry *time.Time `json:"-" db:"reset_token_expiry"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPendingReset reports whether a reset secret is outstanding.
func (u *User) HasPendingReset() bool {
	return u.ResetTokenDigest != nil && u.ResetTokenExpiry != nil
}

// SetResetToken records a new outstanding reset secret, replacing any
// previous one.
func (u *User) SetResetToken(digest string, expiry time.Time, now time.Time) {
	u.ResetTokenDigest = &digest
	u.ResetTokenExpiry = &expiry
	u.UpdatedAt = now
}

// ClearResetToken drops the outstanding reset secret.
func (u *User) ClearResetToken(now time.Time) {
	u.ResetTokenDigest = nil
	u.ResetTokenExpiry = nil
	u.UpdatedAt = now
}

// ReplacePassword stores a new password hash and consumes the reset secret
// in the same mutation.
func (u *User) ReplacePassword(passwordHash string, now time.Time) {
	u.PasswordHash = passwordHash
	u.ClearResetToken(now)
}

// Sanitized returns a copy safe to hand outside the service: no password
// hash and no reset state.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.ResetTokenDigest = nil
	u.ResetTokenExpiry = nil
	return u
}
