package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metalcalc_backend/pkg/metrics"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger logs every request and records HTTP metrics. Paths are
// recorded by route pattern to keep label cardinality bounded.
func RequestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDHeader, requestID)

		err := c.Next()
		if err != nil {
			// let the app's error handler write the response before we read the status
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		duration := time.Since(start)
		route := c.Route().Path
		metrics.RecordHTTPRequest(c.Method(), route, status, duration)

		event := logger.Info()
		if status >= fiber.StatusInternalServerError {
			event = logger.Error()
		}
		if claims := Claims(c); claims != nil {
			event = event.Str("uid", claims.UID)
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", duration).
			Str("ip", c.IP()).
			Msg("HTTP request")
		return nil
	}
}
