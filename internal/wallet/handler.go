package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-engine/internal/directory"
	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	Name   string `json:"name"`
	Mobile string `json:"mobile"`
}

type walletResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Mobile       string    `json:"mobile"`
	Balance      string    `json:"balance"`
	BalanceMinor int64     `json:"balance_minor"`
	Frozen       bool      `json:"frozen"`
	CreatedAt    time.Time `json:"created_at"`
}

type entryResponse struct {
	ID           string    `json:"id"`
	Seq          int64     `json:"seq"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balance_after"`
	Reference    string    `json:"reference"`
	TransferID   string    `json:"transfer_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open provisions a wallet. It is called by the identity collaborator after
// sign-up, so it is mounted on the admin group.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Open(c.UserContext(), OpenInput{Name: req.Name, Mobile: req.Mobile})
	switch {
	case errors.Is(err, ErrNameRequired), errors.Is(err, ErrMobileRequired):
		return httpx.NewError(http.StatusBadRequest, "ValidationFailed", err.Error())
	case errors.Is(err, directory.ErrMobileTaken):
		return httpx.NewError(http.StatusConflict, "MobileTaken", err.Error())
	case err != nil:
		return httpx.Error(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// Get returns the caller's wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), httpx.AccountID(c))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(toResponse(w))
}

// Statement returns a page of the caller's entries, newest first. The
// next_before value of one page is passed as ?before= to read the next.
func (h *Handler) Statement(c *fiber.Ctx) error {
	before, err := strconv.ParseInt(c.Query("before", "0"), 10, 64)
	if err != nil {
		return httpx.NewError(http.StatusBadRequest, "ValidationFailed", ErrInvalidCursor.Error())
	}
	page, err := h.service.Statement(c.UserContext(), httpx.AccountID(c), StatementQuery{
		Limit:  c.QueryInt("limit", DefaultStatementLimit),
		Before: before,
	})
	switch {
	case errors.Is(err, ErrInvalidCursor):
		return httpx.NewError(http.StatusBadRequest, "ValidationFailed", err.Error())
	case err != nil:
		return httpx.Error(c, err)
	}
	out := make([]entryResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		out = append(out, entryResponse{
			ID:           e.ID,
			Seq:          e.Seq,
			Type:         string(e.Type),
			Amount:       money.Format(e.Amount),
			BalanceAfter: money.Format(e.BalanceAfter),
			Reference:    e.Reference,
			TransferID:   e.TransferID,
			CreatedAt:    e.CreatedAt,
		})
	}
	body := fiber.Map{"entries": out}
	if page.Next > 0 {
		body["next_before"] = page.Next
	}
	return c.Status(http.StatusOK).JSON(body)
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:           w.ID,
		Name:         w.Name,
		Mobile:       w.Mobile,
		Balance:      money.Format(w.Balance),
		BalanceMinor: w.Balance,
		Frozen:       w.Frozen,
		CreatedAt:    w.CreatedAt,
	}
}
