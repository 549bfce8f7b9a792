package wallet

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet-engine/internal/directory"
	"github.com/congo-pay/wallet-engine/internal/ledger"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	directory directory.Repository
	ledger    *ledger.Service
}

// NewService builds a wallet service instance.
func NewService(dir directory.Repository, l *ledger.Service) *Service {
	return &Service{directory: dir, ledger: l}
}

// OpenInput captures data required to open a wallet.
type OpenInput struct {
	Name   string
	Mobile string
}

// Open provisions a ledger account and binds a display profile to it.
func (s *Service) Open(ctx context.Context, input OpenInput) (Wallet, error) {
	name := strings.TrimSpace(input.Name)
	mobile := directory.NormalizeMobile(input.Mobile)
	if name == "" {
		return Wallet{}, ErrNameRequired
	}
	if mobile == "" {
		return Wallet{}, ErrMobileRequired
	}
	if _, err := s.directory.FindByMobile(ctx, mobile); err == nil {
		return Wallet{}, directory.ErrMobileTaken
	} else if !errors.Is(err, directory.ErrProfileNotFound) {
		return Wallet{}, err
	}

	acct, err := s.ledger.OpenAccount(ctx, uuid.NewString())
	if err != nil {
		return Wallet{}, err
	}
	profile := directory.Profile{AccountID: acct.ID, Name: name, Mobile: mobile, CreatedAt: acct.CreatedAt}
	if err := s.directory.Create(ctx, profile); err != nil {
		return Wallet{}, err
	}

	return Wallet{ID: acct.ID, Name: name, Mobile: mobile, CreatedAt: acct.CreatedAt}, nil
}

// Get returns the wallet view of an account. Accounts without a profile are
// still returned with empty display fields.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	acct, err := s.ledger.Account(ctx, id)
	if err != nil {
		return Wallet{}, err
	}
	w := Wallet{ID: acct.ID, Balance: acct.Balance, Frozen: acct.Frozen, CreatedAt: acct.CreatedAt}
	profile, err := s.directory.FindByAccount(ctx, id)
	switch {
	case err == nil:
		w.Name, w.Mobile = profile.Name, profile.Mobile
	case !errors.Is(err, directory.ErrProfileNotFound):
		return Wallet{}, err
	}
	return w, nil
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	acct, err := s.ledger.Account(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: acct.ID, Amount: acct.Balance, AsOf: time.Now().UTC()}, nil
}

// StatementQuery selects one page of a statement. Before is the cursor
// returned with the previous page; zero starts at the newest entry.
type StatementQuery struct {
	Limit  int
	Before int64
}

// StatementPage is one page of entries, newest first. Next is the cursor
// for the following page and is zero on the last one.
type StatementPage struct {
	Entries []ledger.Entry
	Next    int64
}

// Statement returns a page of the wallet's entries, newest first.
func (s *Service) Statement(ctx context.Context, id string, q StatementQuery) (StatementPage, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultStatementLimit
	case limit > MaxStatementLimit:
		limit = MaxStatementLimit
	}
	if q.Before < 0 {
		return StatementPage{}, ErrInvalidCursor
	}
	// One extra row tells whether an older page exists.
	entries, err := s.ledger.Statement(ctx, id, ledger.EntryFilter{Limit: limit + 1, Newest: true, BeforeSeq: q.Before})
	if err != nil {
		return StatementPage{}, err
	}
	page := StatementPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.Next = page.Entries[limit-1].Seq
	}
	return page, nil
}
