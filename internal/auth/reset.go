package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset secret configuration.
const (
	ResetSecretBytes = 32 // 32 bytes = 64 hex chars
	DefaultResetTTL  = 20 * time.Minute
)

// ResetTokenManager creates password reset secrets and matches presented
// secrets against stored digests. Only the digest is ever persisted.
type ResetTokenManager struct {
	ttl time.Duration
	now func() time.Time
}

// NewResetTokenManager constructs a ResetTokenManager with the given TTL.
func NewResetTokenManager(ttl time.Duration) *ResetTokenManager {
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	return &ResetTokenManager{ttl: ttl, now: time.Now}
}

// TTL returns how long a generated secret stays valid.
func (m *ResetTokenManager) TTL() time.Duration {
	return m.ttl
}

// Generate returns a fresh random secret, its digest and its expiry.
// The secret goes to the user; the digest and expiry go to storage.
func (m *ResetTokenManager) Generate() (secret, digest string, expiry time.Time, err error) {
	buf := make([]byte, ResetSecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", time.Time{}, oops.With("operation", "generate reset secret").Wrap(err)
	}

	secret = hex.EncodeToString(buf)
	return secret, m.Digest(secret), m.now().Add(m.ttl), nil
}

// Digest computes the SHA-256 hex digest of a reset secret.
func (m *ResetTokenManager) Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Match reports whether presented hashes to storedDigest and now is before
// storedExpiry. Callers get a single answer for every failure.
func (m *ResetTokenManager) Match(presented, storedDigest string, storedExpiry, now time.Time) bool {
	if presented == "" || storedDigest == "" {
		return false
	}
	computed := m.Digest(presented)
	digestOK := subtle.ConstantTimeCompare([]byte(computed), []byte(storedDigest)) == 1
	return digestOK && now.Before(storedExpiry)
}
