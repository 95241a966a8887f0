package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"metalcalc_backend/internal/middleware"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/utils/validation"
)

// respondError writes err as {"error": ...} with the status of its kind.
// Internal errors are logged and their text is not exposed.
func respondError(c *fiber.Ctx, err error) error {
	status := apperror.HTTPStatus(err)
	body := fiber.Map{"error": err.Error()}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		body["fields"] = fieldErrs
	}

	if status >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		if apperror.KindOf(err) == apperror.KindInternal {
			body["error"] = "Internal server error"
		}
	}
	if apperror.Retryable(err) {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return c.Status(status).JSON(body)
}

// parseBody decodes and validates a JSON body. Both failures are validation
// errors, so no store is touched for a malformed request.
func parseBody(c *fiber.Ctx, op string, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.Validation(op, "invalid input")
	}
	if err := validation.Struct(out); err != nil {
		return apperror.New(apperror.KindValidation, op, err)
	}
	return nil
}

// currentAccount is the account AuthMiddleware loaded for this request.
func currentAccount(c *fiber.Ctx) (model.Account, error) {
	account, ok := middleware.Account(c)
	if !ok {
		return model.Account{}, apperror.Authentication("request.account", errors.New("no authenticated account"))
	}
	return account, nil
}
