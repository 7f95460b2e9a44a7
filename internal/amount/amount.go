// Package amount converts between token base units and human-readable decimal amounts.
package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultDecimals matches the 6-decimal mints the pools are deployed with.
const DefaultDecimals int32 = 6

var (
	// ErrNegative is returned for amounts below zero.
	ErrNegative = errors.New("amount must not be negative")

	// ErrTooPrecise is returned when an amount has more fractional digits than the mint.
	ErrTooPrecise = errors.New("amount has more decimals than the token")

	// ErrTooLarge is returned when an amount does not fit in base units.
	ErrTooLarge = errors.New("amount exceeds token base unit range")
)

// ToUI converts base units to a decimal token amount.
func ToUI(base uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(base).Shift(-decimals)
}

// Format renders base units with exactly decimals fractional digits.
func Format(base uint64, decimals int32) string {
	return ToUI(base, decimals).StringFixed(decimals)
}

// Parse converts a decimal string such as "12.5" into base units.
func Parse(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromUI(d, decimals)
}

// FromUI converts a decimal token amount into base units.
func FromUI(d decimal.Decimal, decimals int32) (uint64, error) {
	if d.IsNegative() {
		return 0, ErrNegative
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return 0, ErrTooPrecise
	}
	b := shifted.BigInt()
	if !b.IsUint64() {
		return 0, ErrTooLarge
	}
	return b.Uint64(), nil
}
