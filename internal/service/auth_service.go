package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Common auth errors.
var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

// Claims extends JWT standard claims with the caller role. The subject is
// the identity provider's user id.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// Actor converts verified claims into the caller identity.
func (c *Claims) Actor() model.Actor {
	return model.Actor{UserID: c.Subject, Role: c.Role}
}

// AuthService verifies bearer tokens minted by the identity provider. It
// also mints tokens for local development.
type AuthService struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
		expiry: cfg.JWTExpiry,
	}
}

// IssueToken signs an HS256 token for actor.
func (s *AuthService) IssueToken(actor model.Actor, now time.Time) (string, error) {
	if !actor.Role.Valid() {
		return "", ErrUnknownRole
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   actor.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Role: actor.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT string, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if !claims.Role.Valid() {
		return nil, ErrUnknownRole
	}
	return claims, nil
}
