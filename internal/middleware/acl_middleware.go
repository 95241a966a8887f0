package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// RequireAdmin must run after AuthMiddleware. Role is read from the account
// loaded for this request, never from token claims.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		account, ok := Account(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		if !account.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You don't have permission to access this resource",
			})
		}

		return c.Next()
	}
}
