package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/authserver/internal/auth"
	"github.com/storefront/authserver/types"
)

func TestTokenMinter_IssueAndVerify(t *testing.T) {
	minter := auth.NewTokenMinter("test-secret", time.Hour)

	token, err := minter.Issue("01HZX", types.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	claims, err := minter.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "01HZX", claims.UserID())
	assert.Equal(t, types.RoleAdmin, claims.Role)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestTokenMinter_MissingSecretIsSigningFailure(t *testing.T) {
	minter := auth.NewTokenMinter("   ", time.Hour)

	token, err := minter.Issue("01HZX", types.RoleUser)
	require.Error(t, err)
	assert.Empty(t, token)
	assert.Equal(t, auth.CodeSigningFailed, auth.Code(err))
}

func TestTokenMinter_RejectsTamperedToken(t *testing.T) {
	minter := auth.NewTokenMinter("test-secret", time.Hour)
	token, err := minter.Issue("01HZX", types.RoleUser)
	require.NoError(t, err)

	other := auth.NewTokenMinter("other-secret", time.Hour)
	_, err = other.Verify(token)
	require.Error(t, err)
	assert.Equal(t, auth.CodeInvalidToken, auth.Code(err))

	parts := strings.Split(token, ".")
	parts[1] = parts[1] + "x"
	_, err = minter.Verify(strings.Join(parts, "."))
	require.Error(t, err)
}

func TestTokenMinter_RejectsExpiredToken(t *testing.T) {
	minter := auth.NewTokenMinter("test-secret", time.Hour)
	claims := jwt.RegisteredClaims{
		Subject:   "01HZX",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = minter.Verify(expired)
	require.Error(t, err)
	assert.Equal(t, auth.CodeInvalidToken, auth.Code(err))
}

func TestTokenMinter_RejectsNonHMAC(t *testing.T) {
	minter := auth.NewTokenMinter("test-secret", time.Hour)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "01HZX"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = minter.Verify(unsigned)
	require.Error(t, err)
}

func TestNewTokenMinter_DefaultTTL(t *testing.T) {
	assert.Equal(t, auth.DefaultTokenTTL, auth.NewTokenMinter("s", 0).TTL())
}
