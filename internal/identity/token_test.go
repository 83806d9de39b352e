package identity_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmerrifield20/SteelWatch/internal/identity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokens(t *testing.T, ttl time.Duration) *identity.AdminTokens {
	t.Helper()
	a, err := identity.NewAdminTokens(testSecret, "steelwatch", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAdminTokens_roundTrip(t *testing.T) {
	a := newTestTokens(t, time.Hour)

	token, err := a.Issue("ops@plant-3")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "ops@plant-3" || claims.Role != identity.RoleAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestAdminTokens_expired(t *testing.T) {
	a := newTestTokens(t, time.Nanosecond)
	token, _ := a.Issue("ops")
	time.Sleep(2 * time.Millisecond)

	if _, err := a.Verify(token); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokens_wrongSecret(t *testing.T) {
	a := newTestTokens(t, time.Hour)
	b, _ := identity.NewAdminTokens("ffffffffffffffffffffffffffffffff", "steelwatch", time.Hour)

	token, _ := a.Issue("ops")
	if _, err := b.Verify(token); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokens_wrongIssuer(t *testing.T) {
	a := newTestTokens(t, time.Hour)
	b, _ := identity.NewAdminTokens(testSecret, "elsewhere", time.Hour)

	token, _ := a.Issue("ops")
	if _, err := b.Verify(token); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAdminTokens_rejectsNonAdminRole(t *testing.T) {
	a := newTestTokens(t, time.Hour)
	claims := identity.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "steelwatch",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "viewer",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Verify(token); !errors.Is(err, identity.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewAdminTokens_shortSecret(t *testing.T) {
	if _, err := identity.NewAdminTokens("short", "steelwatch", 0); err == nil {
		t.Error("expected error for short secret")
	}
}
