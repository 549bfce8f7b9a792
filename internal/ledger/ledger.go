package ledger

import (
	"context"
	"time"
)

// EntryType is the direction of a ledger entry relative to its account.
type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// Valid reports whether t is one of the two known entry types.
func (t EntryType) Valid() bool {
	return t == EntryCredit || t == EntryDebit
}

// Account is the balance-bearing row of a wallet. Balance is in minor units
// and is never negative. Version increases on every committed change.
type Account struct {
	ID        string
	Balance   int64
	Frozen    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is an immutable ledger row. Seq orders entries by commit and is
// assigned by the store.
type Entry struct {
	ID             string
	Seq            int64
	AccountID      string
	Type           EntryType
	Amount         int64
	BalanceAfter   int64
	Reference      string
	TransferID     string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Signed returns the amount with the sign it contributes to the balance.
func (e Entry) Signed() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}

// EntryFilter narrows a statement read. The zero value returns every entry
// oldest first. BeforeSeq, when set, keeps only entries committed before that
// sequence number, which lets newest-first reads page backwards.
type EntryFilter struct {
	Limit     int
	Newest    bool
	Type      EntryType
	Since     time.Time
	BeforeSeq int64
}

// Mutation describes a single credit or debit.
type Mutation struct {
	AccountID      string
	Amount         int64
	Reference      string
	IdempotencyKey string
}

// TransferInput captures the data needed to move funds between two accounts.
// CreditReference labels the payee's entry and defaults to Reference.
type TransferInput struct {
	PayerID         string
	PayeeID         string
	Amount          int64
	Reference       string
	CreditReference string
	IdempotencyKey  string
}

// TransferResult describes the ledger outcome of a transfer.
type TransferResult struct {
	TransferID  string
	PayerID     string
	PayeeID     string
	Amount      int64
	Debit       Entry
	Credit      Entry
	CompletedAt time.Time
}

// Store is the persistence boundary of the engine. Implementations must give
// InTx all-or-nothing semantics and hold every lock taken through the Tx until
// the callback returns.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	Entries(ctx context.Context, accountID string, filter EntryFilter) ([]Entry, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the view of a Store inside one atomic unit.
type Tx interface {
	// LockAccount takes the exclusive lock on an account and returns its
	// current state. It fails with ErrLockTimeout once the configured wait
	// elapses and ErrAccountNotFound when the account does not exist.
	LockAccount(ctx context.Context, id string) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	AppendEntry(ctx context.Context, entry Entry) error
	EntriesByKey(ctx context.Context, key string) ([]Entry, error)
}
