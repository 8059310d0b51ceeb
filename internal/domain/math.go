package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Epsilon is the tolerance for balance and share checks.
	Epsilon = decimal.New(1, -9)
	// DustThreshold hides positions smaller than this quantity.
	DustThreshold = decimal.New(1, -8)
	// ShapeTolerance bounds arithmetic drift in buy/sell/transfer legs.
	ShapeTolerance = decimal.New(1, -6)
	// ExitAllTolerance is the residual share balance a withdrawal may leave
	// behind and still be read as "withdraw everything".
	ExitAllTolerance = decimal.New(1, -2)
)

// divisionPrecision is the number of decimal places kept when dividing shares and NAV.
const divisionPrecision = 18

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Div divides a by b keeping enough precision for share arithmetic.
// Division by zero yields zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, divisionPrecision)
}

// ApproxEqual reports whether |a-b| <= tol.
func ApproxEqual(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// BelowTolerance reports whether v < -Epsilon.
func BelowTolerance(v decimal.Decimal) bool {
	return v.LessThan(Epsilon.Neg())
}

// IsDust reports whether |v| < DustThreshold.
func IsDust(v decimal.Decimal) bool {
	return v.Abs().LessThan(DustThreshold)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
