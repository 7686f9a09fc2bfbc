package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a monetary quantity in smallest units. Amounts travel
// as base-10 integer strings of arbitrary precision; fractions, negatives,
// exponent notation, and hex are all rejected.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	if !dec.IsInteger() {
		return nil, fmt.Errorf("amount must be an integer in smallest units")
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer string")
	}
	return n, nil
}

// ParseUnixSeconds parses a decimal-string Unix timestamp such as
// validAfter, validBefore, or deadline.
func ParseUnixSeconds(s string) (*big.Int, error) {
	n, err := ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	return n, nil
}

// FormatAmount renders smallest units at the asset's decimal precision, for
// logs and human-facing output only; wire values stay in smallest units.
func FormatAmount(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
