package middleware

import (
	"strings"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/auth"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/response"
	"github.com/gofiber/fiber/v2"
)

// LocalUserID is the Fiber locals key holding the verified user id
const LocalUserID = "user_id"

// Identity verifies an optional bearer token. Requests without a token pass
// through untouched; a present but invalid token is rejected.
func Identity(verifier *auth.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" || !verifier.Enabled() {
			return c.Next()
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Unauthorized(c, "Invalid authorization format")
		}

		claims, err := verifier.ValidateToken(parts[1])
		if err != nil {
			if err == auth.ErrExpiredToken {
				return response.Unauthorized(c, "Token has expired")
			}
			return response.Unauthorized(c, "Invalid token")
		}

		c.Locals(LocalUserID, claims.Identity())
		c.Locals("claims", claims)

		return c.Next()
	}
}

// UserID returns the verified user id, or fallback when no token was sent
func UserID(c *fiber.Ctx, fallback string) string {
	if id, ok := c.Locals(LocalUserID).(string); ok && id != "" {
		return id
	}
	return fallback
}
