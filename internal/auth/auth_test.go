package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	svc, err := NewService(Config{JWTSecret: secret})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(Config{}); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("Expected ErrMissingSecret, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(t, "test-secret")

	token, err := svc.GenerateToken("station-7", RoleFeeder)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "station-7" {
		t.Errorf("Expected subject station-7, got %s", claims.Subject)
	}
	if claims.Role != RoleFeeder {
		t.Errorf("Expected role feeder, got %s", claims.Role)
	}
	if claims.Issuer != DefaultIssuer {
		t.Errorf("Expected issuer %s, got %s", DefaultIssuer, claims.Issuer)
	}
}

func TestGenerateTokenUnknownRole(t *testing.T) {
	svc := newTestService(t, "test-secret")
	if _, err := svc.GenerateToken("x", "superuser"); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("Expected ErrUnknownRole, got %v", err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newTestService(t, "test-secret")

	other := newTestService(t, "other-secret")
	wrongSecret, _ := other.GenerateToken("x", RoleAdmin)

	expiredSvc, _ := NewService(Config{JWTSecret: "test-secret", TokenDuration: -time.Minute})
	expired, _ := expiredSvc.GenerateToken("x", RoleAdmin)

	foreignSvc, _ := NewService(Config{JWTSecret: "test-secret", Issuer: "someone-else"})
	foreign, _ := foreignSvc.GenerateToken("x", RoleAdmin)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"wrong secret": wrongSecret,
		"expired":      expired,
		"wrong issuer": foreign,
		"alg none":     none,
		"no role":      noRole,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		user, required string
		want           bool
	}{
		{RoleAdmin, RoleOperator, true},
		{RoleOperator, RoleOperator, true},
		{RoleOperator, RoleFeeder, true},
		{RoleFeeder, RoleOperator, false},
		{RoleFeeder, RoleFeeder, true},
		{"guest", RoleFeeder, false},
		{RoleAdmin, "unknown", false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.user, tt.required); got != tt.want {
			t.Errorf("HasRole(%q, %q) = %v, want %v", tt.user, tt.required, got, tt.want)
		}
	}
}

func TestClaimsContext(t *testing.T) {
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Error("Expected no claims in empty context")
	}

	ctx := ContextWithClaims(context.Background(), &Claims{Role: RoleOperator})
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.Role != RoleOperator {
		t.Errorf("Expected operator claims, got %+v", c)
	}
}
