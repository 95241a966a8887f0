package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/utils/jwt"
)

const (
	LocalClaims  = "claims"
	LocalAccount = "account"
)

type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

type AccountEnsurer interface {
	EnsureAccount(ctx context.Context, uid, email string) (model.Account, error)
}

// AuthMiddleware checks the bearer token and loads the caller's account,
// creating a trial account on first access.
func AuthMiddleware(tokens TokenValidator, accounts AccountEnsurer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authentication token",
			})
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		account, err := accounts.EnsureAccount(c.UserContext(), claims.UID, claims.Email)
		if err != nil {
			log.Error().Err(err).Str("uid", claims.UID).Msg("Could not load account")
			return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{
				"error": "Could not load account",
			})
		}

		c.Locals(LocalClaims, claims)
		c.Locals(LocalAccount, account)
		return c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for EventSource clients that cannot set headers.
func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func Claims(c *fiber.Ctx) *jwt.Claims {
	claims, _ := c.Locals(LocalClaims).(*jwt.Claims)
	return claims
}

func Account(c *fiber.Ctx) (model.Account, bool) {
	account, ok := c.Locals(LocalAccount).(model.Account)
	return account, ok
}
