// Package money parses and formats monetary amounts from QuickBooks exports.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse converts a QuickBooks amount string to a decimal value.
// Accepted forms: "342.50", "$342.50", "1,234.56", "-$1,200.00", "(342.50)".
// Parenthesized values are treated as negative. Currency symbols, thousands
// separators, and surrounding whitespace are stripped before parsing.
func Parse(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	// Parenthesized negatives: "(342.50)" means -342.50
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	// Strip currency symbols and formatting characters
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ', ' ':
			return -1
		}
		return r
	}, cleaned)

	if cleaned == "" || cleaned == "-" || cleaned == "+" {
		return decimal.Zero, fmt.Errorf("amount %q contains no numeric value", s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	if negative {
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("invalid amount %q: parenthesized value cannot also carry a minus sign", s)
		}
		d = d.Neg()
	}

	return d, nil
}

// Canonical renders an amount as a fixed 2-decimal string ("342.5" -> "342.50").
// Used by the composite key builder so that formatting variation in the source
// never changes a key.
func Canonical(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Equal reports whether two amounts are the same value after rounding to cents.
func Equal(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
