package transform

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// centsExponent quantizes monetary values to two decimal places.
const centsExponent = -2

// moneyContext performs exact decimal arithmetic with half-up rounding.
func moneyContext() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfUp

	return ctx
}

// toCents rounds d to two decimal places, half-up.
func toCents(d *apd.Decimal) (*apd.Decimal, error) {
	var out apd.Decimal
	if _, err := moneyContext().Quantize(&out, d, centsExponent); err != nil {
		return nil, fmt.Errorf("rounding %s to cents: %w", d, err)
	}

	return &out, nil
}

// TaxComponent returns gross / divisor rounded to cents. For a tax-inclusive
// gross at a 10% rate the divisor is 11.
func TaxComponent(gross *apd.Decimal, divisor string) (*apd.Decimal, error) {
	div, _, err := apd.NewFromString(divisor)
	if err != nil {
		return nil, fmt.Errorf("invalid tax divisor %q: %w", divisor, err)
	}

	if div.IsZero() {
		return nil, fmt.Errorf("tax divisor must not be zero")
	}

	var q apd.Decimal
	if _, err := moneyContext().Quo(&q, gross, div); err != nil {
		return nil, fmt.Errorf("dividing %s by %s: %w", gross, div, err)
	}

	return toCents(&q)
}

// formatDecimal renders d in plain notation for the destination numeric column.
func formatDecimal(d *apd.Decimal) string {
	return d.Text('f')
}
