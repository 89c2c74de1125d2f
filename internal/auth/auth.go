// Package auth mints and validates the bearer tokens that guard the API's
// write routes. Tokens are HS256 JWTs signed with a shared secret and carry
// the caller's role.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles for role-based access control, lowest first.
const (
	RoleFeeder   = "feeder"   // May ingest position snapshots
	RoleOperator = "operator" // May also start tracking sessions
	RoleAdmin    = "admin"    // Full access
)

// DefaultIssuer is stamped into and required of every token.
const DefaultIssuer = "windaloft"

var (
	// ErrInvalidToken is returned when token validation fails
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingSecret is returned by NewService without a signing secret
	ErrMissingSecret = errors.New("jwt secret is required")
	// ErrUnknownRole is returned when minting a token for an undefined role
	ErrUnknownRole = errors.New("unknown role")
)

var roleLevel = map[string]int{
	RoleFeeder:   0,
	RoleOperator: 1,
	RoleAdmin:    2,
}

// Claims are the JWT claims of an API client. The subject names the client
// (a receiver station, an operator).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	JWTSecret     string        // Secret key for signing JWTs
	TokenDuration time.Duration // How long tokens are valid (default: 24h)
	Issuer        string        // Defaults to DefaultIssuer
}

// Service mints and validates tokens.
type Service struct {
	config Config
}

// NewService creates a new authentication service
func NewService(cfg Config) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	return &Service{config: cfg}, nil
}

// GenerateToken generates a JWT token for subject with the given role.
func (s *Service) GenerateToken(subject, role string) (string, error) {
	if _, ok := roleLevel[role]; !ok {
		return "", ErrUnknownRole
	}

	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, known := roleLevel[claims.Role]; !known {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HasRole checks if a user has a specific role or higher
// Role hierarchy: Admin > Operator > Feeder
func HasRole(userRole, requiredRole string) bool {
	userLevel, ok1 := roleLevel[userRole]
	requiredLevel, ok2 := roleLevel[requiredRole]
	if !ok1 || !ok2 {
		return false
	}
	return userLevel >= requiredLevel
}

type claimsKey struct{}

// ContextWithClaims attaches validated claims to ctx.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims attached by ContextWithClaims.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
