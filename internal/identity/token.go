// Package identity issues and verifies the operator tokens that guard
// mutating endpoints.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid admin token")

// RoleAdmin is the only role the API recognises.
const RoleAdmin = "admin"

// AdminClaims are the JWT claims of an operator token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokens issues and verifies HS256 operator tokens.
type AdminTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewAdminTokens creates an AdminTokens. A zero ttl defaults to 12 hours.
func NewAdminTokens(secret, issuer string, ttl time.Duration) (*AdminTokens, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("admin secret must be at least 16 bytes")
	}
	if ttl == 0 {
		ttl = 12 * time.Hour
	}
	return &AdminTokens{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for subject.
func (a *AdminTokens) Issue(subject string) (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.New().String(),
		},
		Role: RoleAdmin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token. Every failure wraps ErrInvalidToken.
func (a *AdminTokens) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (a *AdminTokens) TTL() time.Duration { return a.ttl }
