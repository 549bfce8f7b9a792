package payments

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet-engine/internal/httpx"
)

func newTestApp(svc *Service, account string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(httpx.LocalAccountID, account)
		return c.Next()
	})
	h := NewHandler(svc)
	app.Post("/transfer", h.Transfer)
	app.Post("/qr", h.QR)
	return app
}

func TestHandlerTransfer(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f.svc, "alice")

	req := httptest.NewRequest(fiber.MethodPost, "/transfer", strings.NewReader(`{"payee_id":"bob","amount":"20.00"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(httpx.IdempotencyKeyHeader, "h-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body confirmationResponse
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "20.00", body.Amount)
	assert.Equal(t, int64(2_000), body.AmountMinor)

	replay := httptest.NewRequest(fiber.MethodPost, "/transfer", strings.NewReader(`{"payee_id":"bob","amount":"20.00"}`))
	replay.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	replay.Header.Set(httpx.IdempotencyKeyHeader, "h-1")
	resp, err = app.Test(replay)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerRejectsBadAmountAndQR(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f.svc, "alice")

	req := httptest.NewRequest(fiber.MethodPost, "/transfer", strings.NewReader(`{"payee_id":"bob","amount":"0.001"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodPost, "/qr", strings.NewReader(`{"payload":"nope"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f.svc, "bob")

	req := httptest.NewRequest(fiber.MethodPost, "/transfer", strings.NewReader(`{"payee_id":"alice","amount":5}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
