package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/flowpags/payrecon/internal/pkg/env"
)

// APIKeyAuthMiddleware guards the operator API with a shared key from the
// API_KEY environment variable. When no key is configured the middleware
// lets every request through so local setups keep working.
func APIKeyAuthMiddleware() fiber.Handler {
	configured := strings.TrimSpace(env.GetEnv("API_KEY", ""))
	if configured == "" {
		log.Warn("[Middleware] API_KEY not set, operator API is unauthenticated")
	}

	return func(c *fiber.Ctx) error {
		if configured == "" {
			return c.Next()
		}

		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(configured)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
