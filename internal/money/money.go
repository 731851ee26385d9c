// Package money provides parsing and arithmetic for escrow amounts.
//
// All monetary values cross the API as base-unit integer strings (the
// ledger's smallest unit). Floating point is never used for money.
package money

import (
	"math/big"
)

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// Parse converts a base-unit integer string (e.g. "1000000") to a
// big.Int. Returns (nil, false) on anything that is not a plain
// non-negative integer: signs, decimal points, hex, whitespace.
//
// The empty string parses as zero to keep optional fields simple.
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, false
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}

// Format renders an amount as a base-unit integer string.
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Fraction returns bps basis points of total, rounded down.
// Fraction(1_000_000, 3000) = 300_000.
func Fraction(total *big.Int, bps int64) *big.Int {
	if total == nil || bps <= 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(total, big.NewInt(bps))
	return v.Div(v, big.NewInt(10_000))
}

// ClampSub returns a-b, clamped to zero when b > a.
func ClampSub(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		return new(big.Int)
	}
	return d
}
