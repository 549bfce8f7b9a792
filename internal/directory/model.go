package directory

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrProfileNotFound is returned when no profile matches the lookup.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrMobileTaken indicates the mobile number is bound to another account.
	ErrMobileTaken = errors.New("mobile number already registered")
)

// Profile is the display identity bound to a wallet account.
type Profile struct {
	AccountID string
	Name      string
	Mobile    string
	CreatedAt time.Time
}

// NormalizeMobile strips formatting characters so lookups match regardless of
// how the number was typed.
func NormalizeMobile(mobile string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(mobile))
}
