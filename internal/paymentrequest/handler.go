package paymentrequest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/money"
)

// Handler exposes payment request endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment request handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	TargetID string          `json:"target_id"`
	Mobile   string          `json:"mobile"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note"`
}

type respondRequest struct {
	Action string `json:"action"`
}

type requestResponse struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	TargetID    string     `json:"target_id"`
	Amount      string     `json:"amount"`
	AmountMinor int64      `json:"amount_minor"`
	Note        string     `json:"note,omitempty"`
	Status      Status     `json:"status"`
	TransferID  string     `json:"transfer_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func toResponse(req Request) requestResponse {
	out := requestResponse{
		ID:          req.ID,
		RequesterID: req.RequesterID,
		TargetID:    req.TargetID,
		Amount:      money.Format(req.Amount),
		AmountMinor: req.Amount,
		Note:        req.Note,
		Status:      req.Status,
		TransferID:  req.TransferID,
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
	}
	if !req.RespondedAt.IsZero() {
		t := req.RespondedAt
		out.RespondedAt = &t
	}
	return out
}

func toResponses(reqs []Request) []requestResponse {
	out := make([]requestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toResponse(req))
	}
	return out
}

// Create asks another wallet, by account id or mobile number, to pay.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return httpx.Error(c, err)
	}

	requester := httpx.AccountID(c)
	var created Request
	switch {
	case req.TargetID != "":
		created, err = h.service.Create(c.UserContext(), CreateInput{RequesterID: requester, TargetID: req.TargetID, Amount: amount, Note: req.Note})
	case req.Mobile != "":
		created, err = h.service.CreateByMobile(c.UserContext(), requester, req.Mobile, amount, req.Note)
	default:
		return fiber.NewError(http.StatusBadRequest, "target_id or mobile is required")
	}
	if err != nil {
		return mapError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(created))
}

// Incoming lists pending requests addressed to the caller.
func (h *Handler) Incoming(c *fiber.Ctx) error {
	reqs, err := h.service.ListPending(c.UserContext(), httpx.AccountID(c))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"requests": toResponses(reqs)})
}

// Outgoing lists requests the caller created.
func (h *Handler) Outgoing(c *fiber.Ctx) error {
	reqs, err := h.service.ListSent(c.UserContext(), httpx.AccountID(c))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(fiber.Map{"requests": toResponses(reqs)})
}

// Get returns one request to either party.
func (h *Handler) Get(c *fiber.Ctx) error {
	req, err := h.service.Get(c.UserContext(), c.Params("id"), httpx.AccountID(c))
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(toResponse(req))
}

// Respond accepts or rejects a request addressed to the caller.
func (h *Handler) Respond(c *fiber.Ctx) error {
	var body respondRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req, err := h.service.Respond(c.UserContext(), RespondInput{
		RequestID: c.Params("id"),
		ActorID:   httpx.AccountID(c),
		Action:    body.Action,
	})
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(toResponse(req))
}

func mapError(c *fiber.Ctx, err error) error {
	code := Code(err)
	switch {
	case errors.Is(err, ErrInvalidAction):
		return httpx.NewError(http.StatusBadRequest, code, err.Error())
	case errors.Is(err, ErrRequestNotFound):
		return httpx.NewError(http.StatusNotFound, code, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return httpx.NewError(http.StatusForbidden, code, err.Error())
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrStaleStatus):
		return httpx.NewError(http.StatusConflict, code, err.Error())
	case errors.Is(err, ErrRequestExpired):
		return httpx.NewError(http.StatusGone, code, err.Error())
	}
	return httpx.Error(c, err)
}
