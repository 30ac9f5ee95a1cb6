// Package core provides money parsing and handling utilities.
//
// Amounts are kept as decimal.Decimal end to end so sums over a ledger are
// exact; floats only appear at the presentation edge.
package core

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var ErrInvalidNumber = errors.New("invalid number")

// ParseNumber converts a ledger number to a decimal.
//
// It accepts an optional sign and comma thousands separators, the way
// beancount writes them. Unlike form input, negative and zero values are
// valid: a posting is a signed movement.
//
// Examples:
//
//	ParseNumber("12.34")     -> 12.34
//	ParseNumber("-1,234.50") -> -1234.5
//	ParseNumber("+3")        -> 3
func ParseNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidNumber
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || strings.Count(s, ".") > 1 || s == "." {
		return decimal.Zero, ErrInvalidNumber
	}
	if s[0] == '.' {
		s = "0" + s
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidNumber
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidNumber
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// MustNumber is ParseNumber for literals known to be valid.
func MustNumber(s string) decimal.Decimal {
	d, err := ParseNumber(s)
	if err != nil {
		panic("core: invalid number literal " + s)
	}
	return d
}

// FormatAmount renders a number with two decimals at least, followed by its
// currency (e.g. "-50.00 USD").
func FormatAmount(d decimal.Decimal, currency string) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	s := d.StringFixed(places)
	if currency == "" {
		return s
	}
	return s + " " + currency
}
