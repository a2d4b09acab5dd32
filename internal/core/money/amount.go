// Package money converts between major-unit decimals and the gateway's minor-unit integers.
// Ledger arithmetic never touches floating point.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const DefaultExponent int32 = 2

var (
	ErrFractionalMinorUnit = errors.New("amount has more precision than the currency allows")
	ErrAmountOverflow      = errors.New("amount does not fit in minor units")

	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Codec converts amounts for a currency with Exponent minor digits (2 for kobo/pesewas/cents).
type Codec struct {
	Exponent int32
}

func NewCodec(exponent int32) Codec {
	return Codec{Exponent: exponent}
}

var Default = NewCodec(DefaultExponent)

// ToMinorUnits returns the exact minor-unit integer for amount.
func (c Codec) ToMinorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(c.Exponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrFractionalMinorUnit, amount.String())
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, amount.String())
	}
	return shifted.IntPart(), nil
}

func (c Codec) FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -c.Exponent)
}

// Format renders minor units as a fixed-point major-unit string, e.g. 12050 -> "120.50".
func (c Codec) Format(minor int64) string {
	return c.FromMinorUnits(minor).StringFixed(c.Exponent)
}

// ParseMajor parses a decimal string in major units into minor units.
func (c Codec) ParseMajor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return c.ToMinorUnits(d)
}

func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	return Default.ToMinorUnits(amount)
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return Default.FromMinorUnits(minor)
}
