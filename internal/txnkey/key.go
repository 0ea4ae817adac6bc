// Package txnkey builds composite keys used for transaction duplicate detection.
package txnkey

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/qbimport/internal/money"
)

// Build creates the 4-part composite key for a transaction.
// Format: "{YYYY-MM-DD}|{amount}|{name}|{accountPath}"
// Name and account path are normalized (lowercase, trimmed, collapsed
// whitespace, unicode-folded); amount is rendered with exactly 2 decimals.
// Two records describing the same real-world transaction produce the same key
// regardless of casing, whitespace, or currency formatting in the source.
func Build(date time.Time, amount decimal.Decimal, name, accountPath string) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		date.Format("2006-01-02"),
		money.Canonical(amount),
		NormalizeName(name),
		NormalizeName(accountPath))
}

// BuildLegacy creates the 3-part key without the account segment.
// Kept for matching rows imported before account paths were recorded; dedup
// consults both key forms so older data keeps matching.
func BuildLegacy(date time.Time, amount decimal.Decimal, name string) string {
	return fmt.Sprintf("%s|%s|%s",
		date.Format("2006-01-02"),
		money.Canonical(amount),
		NormalizeName(name))
}

// NormalizeName canonicalizes a payee name or account path segment:
// unicode accents folded, lowercased, interior whitespace collapsed to single
// spaces, leading/trailing whitespace trimmed.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		// Fold failure leaves the input usable, just unfolded
		folded = s
	}

	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}
