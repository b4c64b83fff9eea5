// Package amount converts between human decimal strings and integer base
// units. Floating point is never used.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// BasisPoints is the denominator for slippage tolerances.
const BasisPoints = 10000

var (
	ErrNotPositive   = errors.New("amount must be greater than 0")
	ErrTooPrecise    = errors.New("amount has more decimal places than the asset supports")
	ErrInvalidFormat = errors.New("invalid amount format")
)

// Parse converts a decimal string such as "0.5" into base units for an asset
// with the given number of decimals.
func Parse(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidFormat
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, s)
	}
	if !d.IsPositive() {
		return nil, ErrNotPositive
	}

	units := d.Shift(decimals)
	if !units.IsInteger() {
		return nil, fmt.Errorf("%w: %s (max %d)", ErrTooPrecise, s, decimals)
	}

	return units.BigInt(), nil
}

// Format renders base units as a decimal string.
func Format(units *big.Int, decimals int32) string {
	if units == nil {
		return "0"
	}
	return decimal.NewFromBigInt(units, -decimals).String()
}

// MinOut applies a slippage tolerance to an expected output, rounding down.
func MinOut(expected *big.Int, slippageBps uint32) (*big.Int, error) {
	if expected == nil || expected.Sign() < 0 {
		return nil, fmt.Errorf("invalid expected output: %v", expected)
	}
	if slippageBps > BasisPoints {
		return nil, fmt.Errorf("slippage %d bps exceeds %d", slippageBps, BasisPoints)
	}

	out := new(big.Int).Mul(expected, big.NewInt(int64(BasisPoints-slippageBps)))
	// Quo truncates toward zero, which is floor for non-negative values.
	return out.Quo(out, big.NewInt(BasisPoints)), nil
}
