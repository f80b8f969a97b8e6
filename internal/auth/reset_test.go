package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/authserver/internal/auth"
)

func TestResetTokenManager_Generate(t *testing.T) {
	m := auth.NewResetTokenManager(20 * time.Minute)

	before := time.Now()
	secret, digest, expiry, err := m.Generate()
	require.NoError(t, err)

	assert.Len(t, secret, 2*auth.ResetSecretBytes)
	assert.Len(t, digest, 64)
	assert.NotEqual(t, secret, digest)
	assert.Equal(t, m.Digest(secret), digest)
	assert.WithinDuration(t, before.Add(20*time.Minute), expiry, 5*time.Second)
}

func TestResetTokenManager_GenerateIsUnique(t *testing.T) {
	m := auth.NewResetTokenManager(time.Minute)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		secret, _, _, err := m.Generate()
		require.NoError(t, err)
		_, dup := seen[secret]
		require.False(t, dup)
		seen[secret] = struct{}{}
	}
}

func TestResetTokenManager_Match(t *testing.T) {
	m := auth.NewResetTokenManager(time.Minute)
	secret, digest, expiry, err := m.Generate()
	require.NoError(t, err)
	now := time.Now()
	wrong := []byte(secret)
	if wrong[len(wrong)-1] == '0' {
		wrong[len(wrong)-1] = '1'
	} else {
		wrong[len(wrong)-1] = '0'
	}

	tests := []struct {
		name      string
		presented string
		digest    string
		expiry    time.Time
		want      bool
	}{
		{"exact secret before expiry", secret, digest, expiry, true},
		{"wrong secret", string(wrong), digest, expiry, false},
		{"secret prefix", secret[:10], digest, expiry, false},
		{"expired", secret, digest, now.Add(-time.Second), false},
		{"expiry equals now", secret, digest, now, false},
		{"empty secret", "", digest, expiry, false},
		{"empty digest", secret, "", expiry, false},
		{"digest presented as secret", digest, digest, expiry, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.presented, tt.digest, tt.expiry, now))
		})
	}
}

func TestNewResetTokenManager_DefaultTTL(t *testing.T) {
	assert.Equal(t, auth.DefaultResetTTL, auth.NewResetTokenManager(0).TTL())
}
