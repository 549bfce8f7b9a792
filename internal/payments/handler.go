package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-engine/internal/httpx"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/money"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	PayeeID   string          `json:"payee_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type mobileRequest struct {
	Mobile string          `json:"mobile"`
	Amount decimal.Decimal `json:"amount"`
}

type qrRequest struct {
	Payload string           `json:"payload"`
	Amount  *decimal.Decimal `json:"amount"`
}

type confirmationResponse struct {
	TransactionID string    `json:"transaction_id"`
	PayerID       string    `json:"payer_id"`
	PayeeID       string    `json:"payee_id"`
	PayerName     string    `json:"payer_name"`
	PayeeName     string    `json:"payee_name"`
	Amount        string    `json:"amount"`
	AmountMinor   int64     `json:"amount_minor"`
	Reference     string    `json:"reference"`
	Timestamp     time.Time `json:"timestamp"`
	Replayed      bool      `json:"replayed"`
}

// Transfer pays another wallet by account id.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return httpx.Error(c, err)
	}

	conf, err := h.service.Transfer(c.UserContext(), TransferInput{
		PayerID:        httpx.AccountID(c),
		PayeeID:        req.PayeeID,
		Amount:         amount,
		Reference:      req.Reference,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	return h.respond(c, conf, err)
}

// Mobile pays the wallet registered to a mobile number.
func (h *Handler) Mobile(c *fiber.Ctx) error {
	var req mobileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.FromDecimal(req.Amount)
	if err != nil {
		return httpx.Error(c, err)
	}

	conf, err := h.service.PayByMobile(c.UserContext(), MobileInput{
		PayerID:        httpx.AccountID(c),
		Mobile:         req.Mobile,
		Amount:         amount,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	return h.respond(c, conf, err)
}

// QR pays the wallet encoded in a scanned QR payload.
func (h *Handler) QR(c *fiber.Ctx) error {
	var req qrRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var amount int64
	if req.Amount != nil {
		minor, err := money.FromDecimal(*req.Amount)
		if err != nil {
			return httpx.Error(c, err)
		}
		amount = minor
	}

	conf, err := h.service.PayByQR(c.UserContext(), QRInput{
		PayerID:        httpx.AccountID(c),
		Payload:        req.Payload,
		Amount:         amount,
		IdempotencyKey: httpx.IdempotencyKey(c),
	})
	return h.respond(c, conf, err)
}

func (h *Handler) respond(c *fiber.Ctx, conf Confirmation, err error) error {
	status := http.StatusCreated
	switch {
	case errors.Is(err, ledger.ErrDuplicateOperation):
		status = http.StatusOK
	case errors.Is(err, ErrInvalidQR):
		return httpx.NewError(http.StatusBadRequest, "InvalidQR", err.Error())
	case err != nil:
		return httpx.Error(c, err)
	}

	return c.Status(status).JSON(confirmationResponse{
		TransactionID: conf.TransactionID,
		PayerID:       conf.PayerID,
		PayeeID:       conf.PayeeID,
		PayerName:     conf.PayerName,
		PayeeName:     conf.PayeeName,
		Amount:        money.Format(conf.Amount),
		AmountMinor:   conf.Amount,
		Reference:     conf.Reference,
		Timestamp:     conf.Timestamp,
		Replayed:      conf.Replayed,
	})
}
