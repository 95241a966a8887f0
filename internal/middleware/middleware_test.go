package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/utils/jwt"
)

type stubAccounts struct {
	accounts map[string]model.Account
	err      error
}

func (s *stubAccounts) EnsureAccount(ctx context.Context, uid, email string) (model.Account, error) {
	if s.err != nil {
		return model.Account{}, s.err
	}
	if a, ok := s.accounts[uid]; ok {
		return a, nil
	}
	return model.Account{UID: uid, Email: email, Plan: model.PlanTrial, Role: model.RoleUser}, nil
}

func newApp(accounts *stubAccounts, tokens *jwt.Manager) *fiber.App {
	app := fiber.New()
	auth := AuthMiddleware(tokens, accounts)
	app.Get("/me", auth, func(c *fiber.Ctx) error {
		account, _ := Account(c)
		return c.SendString(account.UID)
	})
	app.Get("/admin", auth, RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func get(t *testing.T, app *fiber.App, target, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestAuthMiddleware(t *testing.T) {
	tokens := jwt.NewManager("secret", time.Hour)
	app := newApp(&stubAccounts{}, tokens)
	token, err := tokens.GenerateToken("u1", "u1@example.com")
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", ""))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", "bogus"))
	assert.Equal(t, fiber.StatusOK, get(t, app, "/me", token))
	assert.Equal(t, fiber.StatusOK, get(t, app, "/me?token="+token, ""))
}

func TestAuthMiddlewareStoreFailure(t *testing.T) {
	tokens := jwt.NewManager("secret", time.Hour)
	app := newApp(&stubAccounts{err: apperror.Unavailable("accounts.ensure", errors.New("down"))}, tokens)
	token, err := tokens.GenerateToken("u1", "u1@example.com")
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusServiceUnavailable, get(t, app, "/me", token))
}

func TestRequireAdminReadsStoredRole(t *testing.T) {
	tokens := jwt.NewManager("secret", time.Hour)
	accounts := &stubAccounts{accounts: map[string]model.Account{
		"boss": {UID: "boss", Role: model.RoleAdmin, Plan: model.PlanTrial},
	}}
	app := newApp(accounts, tokens)

	user, err := tokens.GenerateToken("u1", "u1@example.com")
	require.NoError(t, err)
	admin, err := tokens.GenerateToken("boss", "boss@example.com")
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusForbidden, get(t, app, "/admin", user))
	assert.Equal(t, fiber.StatusOK, get(t, app, "/admin", admin))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	app := fiber.New()
	app.Use(RequestLogger(zerolog.New(&buf)))
	app.Get("/fail", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "nope")
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"status":418`)
}
