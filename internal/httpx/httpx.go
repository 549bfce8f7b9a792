// Package httpx holds the HTTP conventions shared by every handler: the
// request locals set by middleware and the JSON error envelope.
package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/money"
)

const (
	// LocalAccountID holds the authenticated account id.
	LocalAccountID = "account_id"
	// LocalIdempotencyKey holds the request's idempotency key, scoped to the account.
	LocalIdempotencyKey = "idempotency_key"
	// LocalRequestID holds the request id.
	LocalRequestID = "X-Request-ID"

	IdempotencyKeyHeader = "Idempotency-Key"
)

// APIError is an error with an HTTP status and a stable machine-readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return e.Message }

// NewError builds an APIError.
func NewError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// AccountID returns the authenticated account id set by middleware.Account.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalAccountID).(string)
	return id
}

// IdempotencyKey returns the key set by the idempotency middleware, falling
// back to the raw header when the middleware is not mounted.
func IdempotencyKey(c *fiber.Ctx) string {
	if key, ok := c.Locals(LocalIdempotencyKey).(string); ok && key != "" {
		return key
	}
	key := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
	if key == "" {
		return ""
	}
	if account := AccountID(c); account != "" {
		return account + ":" + key
	}
	return key
}

// Error maps engine errors onto HTTP statuses.
func Error(c *fiber.Ctx, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	code := ledger.Code(err)
	switch {
	case errors.Is(err, money.ErrInvalidAmount):
		return NewError(http.StatusBadRequest, "AmountInvalid", err.Error())
	case errors.Is(err, ledger.ErrAmountInvalid), errors.Is(err, ledger.ErrSameAccount):
		return NewError(http.StatusBadRequest, code, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return NewError(http.StatusNotFound, code, err.Error())
	case errors.Is(err, ledger.ErrAccountFrozen), errors.Is(err, ledger.ErrPayeeFrozen):
		return NewError(http.StatusForbidden, code, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return NewError(http.StatusUnprocessableEntity, code, err.Error())
	case errors.Is(err, ledger.ErrDuplicateOperation), errors.Is(err, ledger.ErrIdempotencyMismatch),
		errors.Is(err, ledger.ErrAccountExists):
		return NewError(http.StatusConflict, code, err.Error())
	case errors.Is(err, ledger.ErrLockTimeout):
		c.Set(fiber.HeaderRetryAfter, "1")
		return NewError(http.StatusServiceUnavailable, code, "account busy, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(http.StatusGatewayTimeout, code, "request timed out")
	default:
		return NewError(http.StatusInternalServerError, "Internal", "internal error")
	}
}

// StatusOf returns the status ErrorHandler writes for err.
func StatusOf(err error) int {
	var (
		apiErr   *APIError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Status
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every error as {"error": {"code", "message"}}. It is
// installed as the Fiber app error handler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	code := "Internal"
	message := "internal error"

	var (
		apiErr   *APIError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &apiErr):
		status, code, message = apiErr.Status, apiErr.Code, apiErr.Message
	case errors.As(err, &fiberErr):
		status, message = fiberErr.Code, fiberErr.Message
		code = strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "")
	}

	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{"code": code, "message": message},
	})
}
