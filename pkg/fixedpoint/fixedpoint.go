// Package fixedpoint provides the decimal arithmetic used for every monetary
// value and ratio in the engine. Presentation amounts round to 2 decimals and
// ratios to 4, both with banker's rounding. No value ever passes through a
// binary float.
package fixedpoint

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MoneyScale is the scale of presentation amounts (ORC, RWA).
	MoneyScale int32 = 2
	// RatioScale is the scale of ratios (ILM, coefficients).
	RatioScale int32 = 4
	// LnPrecision is the working precision of the natural logarithm used by
	// the ILM term.
	LnPrecision int32 = 28
)

// EMinusOne is e − 1 at extended precision, the constant inside the ILM log.
var EMinusOne = decimal.RequireFromString("1.718281828459045235360287471352662498")

// Zero is the additive identity.
var Zero = decimal.Zero

// FromString parses a decimal from its canonical string form.
func FromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse parses a decimal literal and panics on malformed input. Reserved
// for compile-time constants and test fixtures.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RoundMoney applies banker's rounding at 2 decimals.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyScale)
}

// RoundRatio applies banker's rounding at 4 decimals.
func RoundRatio(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(RatioScale)
}

// Div divides a by b and fails on a zero divisor instead of producing a
// silent NaN or panic.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("division by zero")
	}
	return a.Div(b), nil
}

// Ln computes the natural logarithm of d at extended precision. The domain is
// d > 0.
func Ln(d decimal.Decimal) (decimal.Decimal, error) {
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("ln domain: %s is not positive", d)
	}
	v, err := d.Ln(LnPrecision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ln(%s): %w", d, err)
	}
	return v, nil
}

// Mean returns the arithmetic mean of values. It fails on an empty slice.
func Mean(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, fmt.Errorf("mean of empty set")
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values)))), nil
}

// Sum returns the total of values.
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
