// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewMoneyFromInt creates a Money value from whole currency units.
func NewMoneyFromInt(v int64) Money {
	return decimal.NewFromInt(v)
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Extend returns qty × unitCost. Quantities are whole stock units.
func Extend(qty int64, unitCost Money) Money {
	return unitCost.Mul(decimal.NewFromInt(qty))
}

// AbsInt64 returns |v|.
func AbsInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
