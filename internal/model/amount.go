package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var amountReplacer = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "\t", "")

// currencyPrefixes are stripped from the front of amount strings.
var currencyPrefixes = []string{"ZAR", "USD", "R", "$"}

// ParseAmount parses a monetary string after removing thousands separators,
// whitespace and a leading currency symbol.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := amountReplacer.Replace(strings.TrimSpace(s))
	upper := strings.ToUpper(clean)
	for _, p := range currencyPrefixes {
		if strings.HasPrefix(upper, p) {
			clean = clean[len(p):]
			break
		}
	}
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount %q", s)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}
