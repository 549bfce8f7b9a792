package ledger

import (
	"context"
	"errors"
)

var (
	// ErrAmountInvalid is returned for zero, negative or unrepresentable amounts.
	ErrAmountInvalid = errors.New("amount must be positive")

	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when provisioning an id that is already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountFrozen indicates a debit against a frozen account.
	ErrAccountFrozen = errors.New("account is frozen")

	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPayeeFrozen indicates the receiving side of a transfer is frozen.
	ErrPayeeFrozen = errors.New("payee account is frozen")

	// ErrSameAccount rejects transfers where payer and payee are the same account.
	ErrSameAccount = errors.New("payer and payee must differ")

	// ErrLockTimeout means an account lock could not be acquired in time. The
	// operation had no effect and may be retried.
	ErrLockTimeout = errors.New("account lock timeout")

	// ErrDuplicateOperation indicates the idempotency key was already applied.
	// Callers receive the original result alongside this error.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrIdempotencyMismatch indicates a key reused for a different operation.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different payload")

	// ErrTransferNotFound means no committed transfer carries the key.
	ErrTransferNotFound = errors.New("transfer not found")
)

// Code returns the stable kind name for err, suitable for API bodies and
// bulk reports. Unknown errors map to "Internal".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAmountInvalid):
		return "AmountInvalid"
	case errors.Is(err, ErrAccountNotFound):
		return "AccountNotFound"
	case errors.Is(err, ErrAccountExists):
		return "AccountExists"
	case errors.Is(err, ErrAccountFrozen):
		return "AccountFrozen"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrPayeeFrozen):
		return "PayeeFrozen"
	case errors.Is(err, ErrSameAccount):
		return "SameAccount"
	case errors.Is(err, ErrLockTimeout):
		return "LockTimeout"
	case errors.Is(err, ErrDuplicateOperation):
		return "DuplicateOperation"
	case errors.Is(err, ErrIdempotencyMismatch):
		return "IdempotencyMismatch"
	case errors.Is(err, ErrTransferNotFound):
		return "TransferNotFound"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Internal"
	}
}

// IsRetriable reports whether err is transient and the caller may retry the
// same operation with backoff.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
