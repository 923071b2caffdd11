// Package money represents prices and discounts as integer minor units.
package money

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MinorDigits is the number of minor-unit digits of the deployment currency.
const MinorDigits = 2

// Money is an amount in minor units of the deployment currency (paise, cents).
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// ErrSubMinorPrecision is returned when a major-unit amount has more
// fractional digits than the currency allows.
var ErrSubMinorPrecision = errors.New("amount has more precision than the currency minor unit")

// ErrOutOfRange is returned when an amount does not fit in Money.
var ErrOutOfRange = errors.New("amount out of range")

// Max is the largest representable amount.
const Max Money = math.MaxInt64

// FromMajor converts a major-unit decimal (e.g. 12.50) into minor units.
// Amounts with sub-minor precision or beyond the int64 range are rejected.
func FromMajor(d decimal.Decimal) (Money, error) {
	shifted := d.Shift(MinorDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrSubMinorPrecision
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrOutOfRange
	}
	return Money(shifted.IntPart()), nil
}

// MustFromMajor is like FromMajor but panics on error. Intended for tests and
// constants.
func MustFromMajor(s string) Money {
	m, err := FromMajor(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorDigits)
}

// String formats the amount in major units with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorDigits)
}

// Times multiplies a unit price by a quantity. Callers check the product
// with CanTimes first.
func (m Money) Times(qty int) Money {
	return m * Money(qty)
}

// CanTimes reports whether m.Times(qty) fits in Money for m, qty >= 0.
func (m Money) CanTimes(qty int) bool {
	return qty <= 0 || m <= Max/Money(qty)
}

// CanAdd reports whether m+n fits in Money for m, n >= 0.
func (m Money) CanAdd(n Money) bool {
	return m <= Max-n
}

// Percent returns pct percent of m, rounded half-up to the nearest minor unit.
// Callers apply it once to an aggregated amount so rounding happens at the
// final step only.
func (m Money) Percent(pct decimal.Decimal) Money {
	exact := decimal.NewFromInt(int64(m)).Mul(pct).Shift(-2)
	// decimal rounds half away from zero, which is half-up for non-negative values.
	return Money(exact.Round(0).IntPart())
}

// Clamp bounds m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	return max(lo, min(m, hi))
}
