package wallet

import (
	"errors"
	"time"
)

// Wallet is the account-holder view of a ledger account: the display
// profile plus the current balance.
type Wallet struct {
	ID        string
	Name      string
	Mobile    string
	Balance   int64
	Frozen    bool
	CreatedAt time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   int64
	AsOf     time.Time
}

// DefaultStatementLimit caps a statement read when no limit is given.
const DefaultStatementLimit = 50

// MaxStatementLimit is the largest page a caller may ask for.
const MaxStatementLimit = 500

var (
	// ErrNameRequired is returned when opening a wallet without a holder name.
	ErrNameRequired = errors.New("name is required")
	// ErrMobileRequired is returned when opening a wallet without a mobile number.
	ErrMobileRequired = errors.New("mobile is required")
	// ErrInvalidCursor is returned for a malformed statement cursor.
	ErrInvalidCursor = errors.New("invalid statement cursor")
)
