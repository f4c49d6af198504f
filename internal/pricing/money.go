package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatMinor renders an amount in minor units with exponent decimal places, e.g. 1999 -> "19.99".
func FormatMinor(amount int64, exponent int32) string {
	return decimal.New(amount, -exponent).StringFixed(exponent)
}

// FormatOptional renders a nullable amount, "-" when absent.
func FormatOptional(amount *int64, exponent int32) string {
	if amount == nil {
		return "-"
	}
	return FormatMinor(*amount, exponent)
}

// ParseMajor converts a major unit string such as "19.99" into minor units.
// More decimal places than exponent are rejected instead of rounded.
func ParseMajor(value string, exponent int32) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	minor := d.Shift(exponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%s has more than %d decimal places", value, exponent)
	}
	return minor.IntPart(), nil
}

// MajorFloat is used for charts only.
func MajorFloat(amount int64, exponent int32) float64 {
	return decimal.New(amount, -exponent).InexactFloat64()
}
