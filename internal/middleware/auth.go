package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lazywriting/api/internal/auth"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/pkg/response"
)

const principalKey = "principal"

// AuthMiddleware handles optional JWT authentication
type AuthMiddleware struct {
	jwtSecret string
}

// NewAuthMiddleware creates auth middleware verifying HMAC-signed tokens
func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate attaches the caller's principal when a bearer token is sent.
// Requests without an Authorization header continue anonymously; a header
// that does not verify is rejected.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Next()
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		if m.jwtSecret == "" {
			return response.Unauthorized(c, "Authentication not configured")
		}

		claims, err := auth.ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals(principalKey, claims.Principal())
		return c.Next()
	}
}

// GetPrincipal returns the authenticated caller, or nil for anonymous requests
func GetPrincipal(c *fiber.Ctx) *model.Principal {
	if p, ok := c.Locals(principalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if p := GetPrincipal(c); p != nil {
		return p.UserID
	}
	return ""
}
