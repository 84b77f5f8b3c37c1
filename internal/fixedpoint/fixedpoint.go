// Package fixedpoint holds the exact base-10 arithmetic used for every quantity and
// reference-currency value in the ledger. It never converts through float64.
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// QuantityPlaces is the number of fractional digits kept for token quantities.
	QuantityPlaces int32 = 18
	// ValuePlaces is the number of fractional digits kept for reference-currency values.
	ValuePlaces int32 = 8
	// PercentPlaces is the number of fractional digits kept for percentages.
	PercentPlaces int32 = 4
	// MaxIntegerDigits matches the NUMERIC(48,18) columns of the ledger store.
	MaxIntegerDigits int32 = 30
)

var (
	// ErrPrecision is the parent of every arithmetic failure surfaced to callers.
	ErrPrecision = errors.New("precision error")
	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrPrecision)
	// ErrOutOfRange is returned when a value exceeds the representable bounds.
	ErrOutOfRange = fmt.Errorf("%w: value outside representable bounds", ErrPrecision)
)

var (
	two          = decimal.NewFromInt(2)
	hundred      = decimal.NewFromInt(100)
	maxMagnitude = decimal.New(1, MaxIntegerDigits)
)

// Div returns a / b rounded half-to-even at the given number of fractional digits.
func Div(a, b decimal.Decimal, places int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}

	// QuoRem truncates toward zero and leaves a remainder carrying a's sign.
	q, r := a.QuoRem(b, places)
	if r.IsZero() {
		return q, nil
	}

	unit := decimal.New(1, -places)
	twiceRem := r.Abs().Mul(two)
	half := b.Abs().Mul(unit)

	switch twiceRem.Cmp(half) {
	case -1:
		return q, nil
	case 0:
		if !isOdd(q, places) {
			return q, nil
		}
	}

	if a.Sign()*b.Sign() < 0 {
		unit = unit.Neg()
	}
	return q.Add(unit), nil
}

// MustDiv is Div for divisors already known to be non-zero.
func MustDiv(a, b decimal.Decimal, places int32) decimal.Decimal {
	q, err := Div(a, b, places)
	if err != nil {
		panic(err)
	}
	return q
}

func isOdd(q decimal.Decimal, places int32) bool {
	return q.Shift(places).Abs().BigInt().Bit(0) == 1
}

// RoundBank rounds half-to-even at the given number of fractional digits.
func RoundBank(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundBank(places)
}

// Quantity rounds d to token-quantity precision.
func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(QuantityPlaces)
}

// Value rounds d to reference-currency precision.
func Value(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(ValuePlaces)
}

// Sum adds values left to right. An empty sequence sums to zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Abs returns |d|.
func Abs(d decimal.Decimal) decimal.Decimal {
	return d.Abs()
}

// Cmp compares a and b, returning -1, 0 or +1.
func Cmp(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

// Percent returns part / whole * 100 at PercentPlaces, or zero when whole is zero.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return MustDiv(part.Mul(hundred), whole, PercentPlaces)
}

// CheckBounds fails with ErrOutOfRange when d has more than MaxIntegerDigits integer digits.
func CheckBounds(d decimal.Decimal) error {
	if d.Abs().Cmp(maxMagnitude) >= 0 {
		return fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return nil
}

// ParseQuantity parses a token quantity and rounds it to QuantityPlaces.
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if err := CheckBounds(d); err != nil {
		return decimal.Zero, err
	}
	return d.RoundBank(QuantityPlaces), nil
}
