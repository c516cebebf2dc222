// Package money formats decimal amounts for display.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var symbols = map[string]string{
	"USD": "$",
	"CAD": "$",
	"AUD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
}

// Format renders amount with its currency symbol and two decimal places,
// e.g. "$10.00" or "-$5.50". Unknown currencies use the ISO code as suffix.
func Format(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(currency)
	abs := amount.Abs().StringFixed(2)
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	if sym, ok := symbols[currency]; ok {
		return sign + sym + abs
	}
	return sign + abs + " " + currency
}
