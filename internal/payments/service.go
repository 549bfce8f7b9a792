package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/congo-pay/wallet-engine/internal/directory"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/logging"
	"github.com/congo-pay/wallet-engine/internal/money"
	"github.com/congo-pay/wallet-engine/internal/notification"
)

// ErrInvalidQR indicates a QR payload that is not a wallet payment link.
var ErrInvalidQR = errors.New("invalid payment qr code")

// Directory resolves display names and mobile numbers for accounts.
type Directory interface {
	FindByAccount(ctx context.Context, accountID string) (directory.Profile, error)
	FindByMobile(ctx context.Context, mobile string) (directory.Profile, error)
}

// Service is the front door for moving funds between wallets.
type Service struct {
	ledger    *ledger.Service
	directory Directory
	notifier  notification.Notifier
	logger    *slog.Logger
}

// NewService constructs a payment service. A nil notifier disables
// notifications and a nil logger discards logs.
func NewService(l *ledger.Service, dir Directory, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ledger: l, directory: dir, notifier: notifier, logger: logger}
}

// TransferInput captures the data needed to move funds between wallets.
type TransferInput struct {
	PayerID        string
	PayeeID        string
	Amount         int64
	Reference      string
	IdempotencyKey string

	creditReference string
}

// Confirmation is returned to the payer once a transfer commits.
type Confirmation struct {
	TransactionID string
	PayerID       string
	PayeeID       string
	PayerName     string
	PayeeName     string
	Amount        int64
	Reference     string
	Timestamp     time.Time
	Replayed      bool
}

// Transfer moves funds from payer to payee. A replayed idempotency key returns
// the original confirmation together with ledger.ErrDuplicateOperation.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Confirmation, error) {
	if in.Reference == "" {
		in.Reference = "P2P"
	}

	res, err := s.ledger.Transfer(ctx, ledger.TransferInput{
		PayerID:         in.PayerID,
		PayeeID:         in.PayeeID,
		Amount:          in.Amount,
		Reference:       in.Reference,
		CreditReference: in.creditReference,
		IdempotencyKey:  in.IdempotencyKey,
	})
	replayed := errors.Is(err, ledger.ErrDuplicateOperation)
	if err != nil && !replayed {
		return Confirmation{}, err
	}

	payer := s.profile(ctx, res.PayerID)
	payee := s.profile(ctx, res.PayeeID)
	conf := Confirmation{
		TransactionID: res.TransferID,
		PayerID:       res.PayerID,
		PayeeID:       res.PayeeID,
		PayerName:     payer.Name,
		PayeeName:     payee.Name,
		Amount:        res.Amount,
		Reference:     res.Debit.Reference,
		Timestamp:     res.CompletedAt,
		Replayed:      replayed,
	}
	if replayed {
		return conf, err
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindPaymentReceived,
		From:        res.PayerID,
		To:          res.PayeeID,
		Destination: payee.Mobile,
		Amount:      res.Amount,
		Reference:   conf.Reference,
		Body:        fmt.Sprintf("You received %s from %s", money.Format(res.Amount), displayName(payer)),
	})
	return conf, nil
}

// MobileInput pays the wallet bound to a mobile number.
type MobileInput struct {
	PayerID        string
	Mobile         string
	Amount         int64
	IdempotencyKey string
}

// PayByMobile resolves the payee by mobile number and transfers to it.
func (s *Service) PayByMobile(ctx context.Context, in MobileInput) (Confirmation, error) {
	mobile := directory.NormalizeMobile(in.Mobile)
	payee, err := s.directory.FindByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, directory.ErrProfileNotFound) {
			return Confirmation{}, fmt.Errorf("no wallet for mobile %s: %w", mobile, ledger.ErrAccountNotFound)
		}
		return Confirmation{}, err
	}

	payer := s.profile(ctx, in.PayerID)
	return s.Transfer(ctx, TransferInput{
		PayerID:         in.PayerID,
		PayeeID:         payee.AccountID,
		Amount:          in.Amount,
		Reference:       "PAYMENT_TO_" + mobile,
		IdempotencyKey:  in.IdempotencyKey,
		creditReference: "PAYMENT_FROM_" + payer.Mobile,
	})
}

// QRInput pays the wallet encoded in a QR payload. Amount is used when the
// payload carries none.
type QRInput struct {
	PayerID        string
	Payload        string
	Amount         int64
	IdempotencyKey string
}

// PayByQR decodes a wallet://pay link and transfers to the wallet it names.
func (s *Service) PayByQR(ctx context.Context, in QRInput) (Confirmation, error) {
	target, err := ParseQR(in.Payload)
	if err != nil {
		return Confirmation{}, err
	}
	amount := in.Amount
	if target.Amount > 0 {
		amount = target.Amount
	}

	if target.Mobile != "" {
		return s.PayByMobile(ctx, MobileInput{
			PayerID:        in.PayerID,
			Mobile:         target.Mobile,
			Amount:         amount,
			IdempotencyKey: in.IdempotencyKey,
		})
	}
	return s.Transfer(ctx, TransferInput{
		PayerID:        in.PayerID,
		PayeeID:        target.AccountID,
		Amount:         amount,
		Reference:      "QR_PAYMENT",
		IdempotencyKey: in.IdempotencyKey,
	})
}

// QRTarget is the decoded content of a payment QR code.
type QRTarget struct {
	Mobile    string
	AccountID string
	Amount    int64
}

// ParseQR decodes payloads of the form wallet://pay?mobile=...&amount=12.50
// or wallet://pay?account=....
func ParseQR(payload string) (QRTarget, error) {
	u, err := url.Parse(strings.TrimSpace(payload))
	if err != nil || u.Scheme != "wallet" || u.Host != "pay" {
		return QRTarget{}, ErrInvalidQR
	}
	q := u.Query()
	target := QRTarget{
		Mobile:    directory.NormalizeMobile(q.Get("mobile")),
		AccountID: strings.TrimSpace(q.Get("account")),
	}
	if (target.Mobile == "") == (target.AccountID == "") {
		return QRTarget{}, ErrInvalidQR
	}
	if raw := q.Get("amount"); raw != "" {
		amount, err := money.Parse(raw)
		if err != nil {
			return QRTarget{}, fmt.Errorf("%w: %v", ErrInvalidQR, err)
		}
		target.Amount = amount
	}
	return target, nil
}

func (s *Service) profile(ctx context.Context, accountID string) directory.Profile {
	if s.directory == nil || accountID == "" {
		return directory.Profile{AccountID: accountID}
	}
	p, err := s.directory.FindByAccount(ctx, accountID)
	if err != nil {
		s.logger.Warn("profile lookup failed", "account_id", accountID, "error", err)
		return directory.Profile{AccountID: accountID}
	}
	return p
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification not queued", "kind", msg.Kind, "to", msg.To, "error", err)
	}
}

func displayName(p directory.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Mobile != "" {
		return p.Mobile
	}
	return "a wallet"
}
