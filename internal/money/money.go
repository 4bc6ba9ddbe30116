// Package money converts between integer cents and human-readable dollar
// strings. Arithmetic never happens here; the core works on domain.Cents
// and this package only formats and parses at the edges.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fieldstack/fieldstack/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// Format renders cents as a dollar string, e.g. 1234 -> "$12.34".
// Negative amounts render with a leading minus: -50 -> "-$0.50".
func Format(cents domain.Cents) string {
	n := int64(cents)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return fmt.Sprintf("%s$%d.%02d", sign, n/100, n%100)
}

// ParseDollars parses a dollar string back to cents, e.g. "12.34" -> 1234.
// A leading "$" (after any minus sign) is accepted. Amounts with more than
// two decimal places are rejected since they cannot be represented exactly.
// ParseDollars is the exact inverse of Format.
func ParseDollars(s string) (domain.Cents, error) {
	const op = "money.parse_dollars"

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, domain.Invalid(op, "amount is empty")
	}

	negative := false
	if strings.HasPrefix(trimmed, "-") {
		negative = true
		trimmed = trimmed[1:]
	}
	trimmed = strings.TrimPrefix(trimmed, "$")
	if trimmed == "" {
		return 0, domain.Invalid(op, fmt.Sprintf("malformed amount: %q", s))
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, domain.Invalid(op, fmt.Sprintf("malformed amount: %q", s))
	}
	if d.IsNegative() {
		return 0, domain.Invalid(op, fmt.Sprintf("malformed amount: %q", s))
	}
	if d.Exponent() < -2 {
		return 0, domain.Invalid(op, fmt.Sprintf("amount has sub-cent precision: %q", s))
	}

	cents := d.Mul(oneHundred)
	if !cents.IsInteger() {
		return 0, domain.Invalid(op, fmt.Sprintf("amount has sub-cent precision: %q", s))
	}

	out := domain.Cents(cents.IntPart())
	if negative {
		out = -out
	}
	return out, nil
}
