// Package money converts between major-unit decimal amounts used at the API
// edge and the int64 minor units stored by the ledger.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits in a major unit.
const Scale = 2

var (
	// ErrInvalidAmount is returned for unparsable, negative or over-precise
	// amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// Parse converts a decimal string such as "12.50" into minor units.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts d into minor units. It rejects values with more than
// Scale fractional digits instead of rounding them.
func FromDecimal(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	minor := d.Shift(Scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, Scale)
	}
	if minor.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return minor.IntPart(), nil
}

// ToDecimal converts minor units back into a major-unit decimal.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format renders minor units with exactly Scale fractional digits.
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(Scale)
}
