package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// Claims represents the identity carried by a bearer token
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity returns the user id claim, falling back to the subject
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// TokenVerifier validates HS256 bearer tokens issued elsewhere
type TokenVerifier struct {
	config JWTConfig
}

// NewTokenVerifier creates a new token verifier
func NewTokenVerifier(config JWTConfig) *TokenVerifier {
	return &TokenVerifier{
		config: config,
	}
}

// Enabled reports whether a signing secret is configured
func (v *TokenVerifier) Enabled() bool {
	return v != nil && v.config.Secret != ""
}

// ValidateToken validates a JWT token and returns claims
func (v *TokenVerifier) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.config.Secret), nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Identity() == "" {
		return nil, ErrInvalidClaims
	}

	return claims, nil
}
