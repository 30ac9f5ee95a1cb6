package aggregate

import (
	"strings"

	"garbanzo/internal/core"
)

// Dimension is the non-time part of an aggregate key.
type Dimension string

const (
	// ByAccount keys rows by the full account name.
	ByAccount Dimension = "account"
	// ByCategory keys rows by the account truncated to Query.Depth.
	ByCategory Dimension = "category"
	// ByType keys rows by the root account (Assets, Expenses, ...).
	ByType Dimension = "type"
	// ByTotal puts every posting under a single key.
	ByTotal Dimension = "total"
)

// TotalKey is the row key used by ByTotal.
const TotalKey = "Total"

// defaultCategoryDepth applies to ByCategory when the query leaves Depth at 0.
const defaultCategoryDepth = 2

var dimensions = []Dimension{ByAccount, ByCategory, ByType, ByTotal}

func dimensionNames() []string {
	out := make([]string, len(dimensions))
	for i, d := range dimensions {
		out[i] = string(d)
	}
	return out
}

// ParseDimension resolves a grouping name, case-insensitively.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", &InvalidGroupingError{Dimension: s}
	}
	return d, nil
}

func (d Dimension) IsValid() bool {
	for _, known := range dimensions {
		if d == known {
			return true
		}
	}
	return false
}

func (d Dimension) String() string {
	return string(d)
}

// keyFunc returns the function deriving a row key from an account.
func (d Dimension) keyFunc(depth int) func(account string) string {
	switch d {
	case ByAccount:
		return func(a string) string { return a }
	case ByCategory:
		if depth <= 0 {
			depth = defaultCategoryDepth
		}
		return func(a string) string { return core.AccountAtDepth(a, depth) }
	case ByType:
		return core.AccountRoot
	default:
		return func(string) string { return TotalKey }
	}
}
