package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newAuth(issuer string) *AuthService {
	return NewAuthService(&config.Config{JWTSecret: "test-secret", JWTIssuer: issuer, JWTExpiry: time.Hour})
}

func TestAuthService_RoundTrip(t *testing.T) {
	auth := newAuth("idp")
	token, err := auth.IssueToken(model.Actor{UserID: "t-7", Role: model.RoleTeacher}, time.Now())
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, model.Actor{UserID: "t-7", Role: model.RoleTeacher}, claims.Actor())
}

func TestAuthService_RejectsExpiredAndForeignTokens(t *testing.T) {
	auth := newAuth("idp")

	old, err := auth.IssueToken(model.Actor{UserID: "s1", Role: model.RoleStudent}, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = auth.ValidateToken(old)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other, err := newAuth("someone-else").IssueToken(model.Actor{UserID: "s1", Role: model.RoleStudent}, time.Now())
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = auth.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthService_UnknownRole(t *testing.T) {
	_, err := newAuth("").IssueToken(model.Actor{UserID: "x", Role: "janitor"}, time.Now())
	assert.ErrorIs(t, err, ErrUnknownRole)
}
