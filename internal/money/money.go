// Package money converts between decimal prices and integer minor units.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true,
	"JPY": true, "KMF": true, "KRW": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if zeroDecimal[NormalizeCurrency(currency)] {
		return 0
	}
	return 2
}

// ToMinor converts a decimal amount to minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	scaled := amount.Shift(Exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-minor precision for %s", amount, NormalizeCurrency(currency))
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("amount %s out of range", amount)
	}
	return scaled.IntPart(), nil
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Format renders minor units as "12.50 PLN".
func Format(minor int64, currency string) string {
	exp := Exponent(currency)
	return FromMinor(minor, currency).StringFixed(exp) + " " + NormalizeCurrency(currency)
}
