package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidate(t *testing.T) {
	s := NewJWTService("secret", "lms", time.Hour)
	token, err := s.Generate("42", "Ada", RoleAdmin)
	require.NoError(t, err)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "lms", claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	good := NewJWTService("secret", "lms", time.Hour)
	token, err := good.Generate("42", "", RoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name    string
		service *JWTService
		token   string
	}{
		{"wrong secret", NewJWTService("other", "lms", time.Hour), token},
		{"wrong issuer", NewJWTService("secret", "elsewhere", time.Hour), token},
		{"garbage", good, "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.service.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	s := NewJWTService("secret", "", time.Nanosecond)
	s.ttl = -time.Hour
	token, err := s.Generate("42", "", RoleAdmin)
	require.NoError(t, err)
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
