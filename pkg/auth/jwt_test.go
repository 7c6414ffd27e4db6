package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTServiceDisabledWithoutSecret(t *testing.T) {
	assert.Nil(t, NewJWTService(JWTConfig{}))
}

func TestJWTGenerateAndValidate(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "unit-test-secret"})
	require.NotNil(t, svc)

	token, err := svc.Generate("u42", "builder")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID)
	assert.Equal(t, "builder", claims.Username)
	assert.Equal(t, "kiln", claims.Issuer)
}

func TestJWTValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService(JWTConfig{SecretKey: "secret-a"})
	verifier := NewJWTService(JWTConfig{SecretKey: "secret-b"})

	token, err := issuer.Generate("u1", "x")
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidateRejectsExpired(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "secret", TokenExpiry: -time.Hour})

	token, err := svc.Generate("u1", "x")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTValidateRejectsEmpty(t *testing.T) {
	svc := NewJWTService(JWTConfig{SecretKey: "secret"})

	_, err := svc.Validate("")
	assert.ErrorIs(t, err, ErrMissingToken)
}
