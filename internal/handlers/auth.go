package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/middleware"
)

// AuthHandler covers the small slice of auth this service owns: operators
// are provisioned upstream, tokens are only validated and revoked here.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me returns the authenticated operator's identity.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"operator": c.Locals("operator"),
			"role":     c.Locals("role"),
		},
	})
}

// Logout revokes the presented token until its natural expiry.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	tokenString, _ := c.Locals("token").(string)
	if tokenString == "" {
		return badRequest(c, "No token to revoke")
	}

	// Blacklist only needs to outlive the token itself
	ttl := time.Hour
	if token, _, err := jwt.NewParser().ParseUnverified(tokenString, &middleware.JWTClaims{}); err == nil {
		if claims, ok := token.Claims.(*middleware.JWTClaims); ok && claims.ExpiresAt != nil {
			if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
				ttl = remaining
			}
		}
	}

	if err := database.BlacklistToken(tokenString, ttl); err != nil {
		return serverError(c, "Failed to revoke token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logged out",
	})
}
