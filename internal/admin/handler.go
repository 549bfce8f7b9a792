package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/money"
)

// Handler exposes operator endpoints. It must be mounted behind
// middleware.AdminKey.
type Handler struct {
	service *Service
}

// NewHandler constructs an admin handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openAccountRequest struct {
	ID string `json:"id"`
}

type bulkCreditRequest struct {
	AccountIDs []string        `json:"account_ids"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	BatchID    string          `json:"batch_id"`
}

type bulkFreezeRequest struct {
	AccountIDs []string `json:"account_ids"`
}

type adjustRequest struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// OpenAccount provisions a bare ledger account.
func (h *Handler) OpenAccount(c *fiber.Ctx) error {
	var req openAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.OpenAccount(c.UserContext(), strings.TrimSpace(req.ID))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.Status(http.StatusCreated).JSON(accountBody(acct))
}

// BulkCredit credits many accounts and reports per-item outcomes.
func (h *Handler) BulkCredit(c *fiber.Ctx) error {
	var req bulkCreditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return httpx.Error(c, err)
	}
	batch := req.BatchID
	if batch == "" {
		batch = c.Get(httpx.IdempotencyKeyHeader)
	}
	report, err := h.service.BulkCredit(c.UserContext(), BulkCreditInput{
		AccountIDs: req.AccountIDs,
		Amount:     amount,
		Reason:     req.Reason,
		BatchID:    batch,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(report)
}

// BulkFreeze freezes many accounts.
func (h *Handler) BulkFreeze(c *fiber.Ctx) error {
	return h.bulkFrozen(c, h.service.BulkFreeze)
}

// BulkUnfreeze unfreezes many accounts.
func (h *Handler) BulkUnfreeze(c *fiber.Ctx) error {
	return h.bulkFrozen(c, h.service.BulkUnfreeze)
}

func (h *Handler) bulkFrozen(c *fiber.Ctx, op func(ctx context.Context, ids []string) (Report, error)) error {
	var req bulkFreezeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	report, err := op(c.UserContext(), req.AccountIDs)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(report)
}

// Adjust posts a manual credit or debit to one account.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return httpx.Error(c, err)
	}
	entry, err := h.service.Adjust(c.UserContext(), AdjustInput{
		AccountID:      c.Params("id"),
		Type:           ledger.EntryType(strings.ToUpper(req.Type)),
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: c.Get(httpx.IdempotencyKeyHeader),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
		return mapError(c, err)
	}
	status := http.StatusCreated
	if err != nil {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"entry_id":      entry.ID,
		"account_id":    entry.AccountID,
		"type":          entry.Type,
		"amount":        money.Format(entry.Amount),
		"balance_after": money.Format(entry.BalanceAfter),
		"reference":     entry.Reference,
	})
}

// Freeze freezes one account.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	changed, err := h.service.Freeze(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"account_id": c.Params("id"), "frozen": true, "changed": changed})
}

// Unfreeze unfreezes one account.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	changed, err := h.service.Unfreeze(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{"account_id": c.Params("id"), "frozen": false, "changed": changed})
}

// Reconcile reports whether the stored balance matches the ledger.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	rec, err := h.service.Reconcile(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(fiber.Map{
		"account_id":       rec.AccountID,
		"stored_balance":   rec.StoredBalance,
		"replayed_balance": rec.ReplayedBalance,
		"entries":          rec.Entries,
		"broken_at":        rec.BrokenAt,
		"consistent":       rec.Consistent,
	})
}

func accountBody(acct ledger.Account) fiber.Map {
	return fiber.Map{
		"id":            acct.ID,
		"balance":       money.Format(acct.Balance),
		"balance_minor": acct.Balance,
		"frozen":        acct.Frozen,
		"created_at":    acct.CreatedAt,
	}
}

func mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrEmptyBatch):
		return httpx.NewError(http.StatusBadRequest, "EmptyBatch", err.Error())
	case errors.Is(err, ErrInvalidType):
		return httpx.NewError(http.StatusBadRequest, "InvalidType", err.Error())
	}
	return httpx.Error(c, err)
}
