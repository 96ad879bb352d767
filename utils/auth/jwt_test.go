package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidateToken(t *testing.T) {
	v := NewTokenVerifier(JWTConfig{Secret: "s3cret", Issuer: "brainclone"})
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	t.Run("user id claim", func(t *testing.T) {
		tok := sign(t, "s3cret", jwt.SigningMethodHS256, Claims{
			UserID:           "u-1",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "brainclone", ExpiresAt: future},
		})
		claims, err := v.ValidateToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "u-1", claims.Identity())
	})

	t.Run("subject fallback", func(t *testing.T) {
		tok := sign(t, "s3cret", jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u-2", Issuer: "brainclone", ExpiresAt: future},
		})
		claims, err := v.ValidateToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "u-2", claims.Identity())
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := sign(t, "other", jwt.SigningMethodHS256, Claims{UserID: "u-1"})
		_, err := v.ValidateToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		tok := sign(t, "s3cret", jwt.SigningMethodHS256, Claims{
			UserID: "u-1",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "brainclone",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		_, err := v.ValidateToken(tok)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok := sign(t, "s3cret", jwt.SigningMethodHS256, Claims{
			UserID:           "u-1",
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere", ExpiresAt: future},
		})
		_, err := v.ValidateToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no identity", func(t *testing.T) {
		tok := sign(t, "s3cret", jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "brainclone", ExpiresAt: future},
		})
		_, err := v.ValidateToken(tok)
		assert.ErrorIs(t, err, ErrInvalidClaims)
	})
}

func TestEnabled(t *testing.T) {
	assert.False(t, NewTokenVerifier(JWTConfig{}).Enabled())
	assert.True(t, NewTokenVerifier(JWTConfig{Secret: "x"}).Enabled())
	var nilVerifier *TokenVerifier
	assert.False(t, nilVerifier.Enabled())
}
