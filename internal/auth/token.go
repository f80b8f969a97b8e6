package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/storefront/authserver/types"
)

// DefaultTokenTTL is used when a minter is built without a TTL.
const DefaultTokenTTL = 72 * time.Hour

// Claims is the payload of a session credential.
type Claims struct {
	jwt.RegisteredClaims
	Role types.Role `json:"role"`
}

// UserID returns the subject of the credential.
func (c Claims) UserID() string {
	return c.Subject
}

// TokenMinter issues HS256 session credentials. Expiry is the only
// invalidation mechanism; there is no revocation.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenMinter constructs a TokenMinter. An empty secret is accepted here
// and reported as a signing failure on Issue.
func NewTokenMinter(secret string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenMinter{
		secret: []byte(strings.TrimSpace(secret)),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns how long issued credentials stay valid.
func (m *TokenMinter) TTL() time.Duration {
	return m.ttl
}

// Issue signs a credential for userID carrying role.
func (m *TokenMinter) Issue(userID string, role types.Role) (string, error) {
	if len(m.secret) == 0 {
		return "", oops.Code(CodeSigningFailed).Errorf("signing secret is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return "", oops.Code(CodeSigningFailed).Errorf("missing subject")
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", oops.Code(CodeSigningFailed).Wrap(err)
	}
	return signed, nil
}

// Verify parses and validates a credential. Only the request
// authentication middleware calls this.
func (m *TokenMinter) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	if len(m.secret) == 0 {
		return claims, oops.Code(CodeSigningFailed).Errorf("signing secret is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return Claims{}, oops.Code(CodeInvalidToken).Wrap(err)
	}
	if !token.Valid {
		return Claims{}, oops.Code(CodeInvalidToken).Errorf("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, oops.Code(CodeInvalidToken).Errorf("missing subject")
	}
	claims.Role = types.ParseRole(string(claims.Role))
	return claims, nil
}
