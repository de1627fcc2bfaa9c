// Package money provides fixed-point money parsing, formatting, and
// split arithmetic.
//
// Amounts use 2 decimal places and are handled as big.Int in the
// currency's minor unit (1.00 = 100 units). All division happens in
// Split, which never drops a remainder: rounding dust always lands on
// the seller side of the split.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "120.50") to its minor-unit
// big.Int representation (12050). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 2 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a minor-unit big.Int to a human-readable decimal
// string with exactly 2 decimal places (e.g. "120.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// IsPositive reports whether s parses to an amount strictly above zero.
func IsPositive(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() > 0
}

// ParseFraction parses a decimal fraction string (e.g. "0.3") and
// reports whether it lies strictly between 0 and 1. Used for partial
// refund splits, where the boundary values are full-refund/decline and
// must be expressed as those resolutions instead.
func ParseFraction(s string) (*big.Rat, bool) {
	if s == "" {
		return nil, false
	}
	f, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, false
	}
	if f.Cmp(new(big.Rat)) <= 0 || f.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, false
	}
	return f, true
}

// Split divides amount by fraction into (portion, remainder), both in
// minor units. portion = floor(amount * fraction); remainder is the
// rest, so portion + remainder == amount exactly. Any sub-minor-unit
// rounding loss stays in remainder.
func Split(amount *big.Int, fraction *big.Rat) (portion, remainder *big.Int) {
	p := new(big.Int).Mul(amount, fraction.Num())
	p.Quo(p, fraction.Denom())
	r := new(big.Int).Sub(amount, p)
	return p, r
}
