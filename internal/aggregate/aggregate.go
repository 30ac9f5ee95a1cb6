// Package aggregate turns ledger postings into chart-ready tables.
//
// Everything here is a pure function of its arguments: no I/O, no shared
// state, no goroutines. Callers recompute by calling again with a different
// Query.
package aggregate

import (
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

// Query selects how postings are grouped.
type Query struct {
	GroupBy Dimension
	Grain   core.Grain
	// Currencies keeps only postings in these currencies; empty keeps all.
	Currencies []string
	// Depth truncates accounts for ByCategory.
	Depth int
	// AccountPrefix keeps only postings under this account.
	AccountPrefix string
	// Target converts every kept posting into this currency using Prices.
	Target string
	Prices *PriceTable
}

// Validate reports the first problem with q.
func (q Query) Validate() error {
	if !q.GroupBy.IsValid() {
		return &InvalidGroupingError{Dimension: string(q.GroupBy)}
	}
	if _, err := q.Grain.Bucketer(); err != nil {
		return err
	}
	if q.Depth < 0 {
		return fmt.Errorf("depth %d must not be negative", q.Depth)
	}
	if q.Target != "" {
		if err := core.ValidateCurrency(q.Target); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	return nil
}

// Row is the summed amount for one (key, bucket, currency).
type Row struct {
	Key      string
	Bucket   core.Date // first day of the bucket
	Grain    core.Grain
	Currency string
	Amount   decimal.Decimal
	Count    int // postings folded into the row
}

// Label renders the bucket, e.g. "2024-01" for a monthly row.
func (r Row) Label() string {
	return r.Grain.Label(r.Bucket)
}

type rowKey struct {
	key      string
	bucket   core.Date
	currency string
}

// Aggregate groups postings by q.GroupBy, time bucket and currency. Rows are
// ordered by bucket, then key, then currency. An empty input yields an empty
// result.
func Aggregate(postings []core.Posting, q Query) ([]Row, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	keyOf := q.GroupBy.keyFunc(q.Depth)
	keep := currencySet(q.Currencies)

	sums := make(map[rowKey]*Row)
	for _, p := range postings {
		if !core.AccountHasPrefix(p.Account, q.AccountPrefix) {
			continue
		}
		if keep != nil {
			if _, ok := keep[p.Currency]; !ok {
				continue
			}
		}
		amount, currency := p.Amount, p.Currency
		if q.Target != "" && currency != q.Target {
			converted, err := q.Prices.Convert(amount, currency, q.Target, p.Date)
			if err != nil {
				return nil, err
			}
			amount, currency = converted, q.Target
		}

		k := rowKey{key: keyOf(p.Account), bucket: q.Grain.BucketStart(p.Date), currency: currency}
		r, ok := sums[k]
		if !ok {
			r = &Row{Key: k.key, Bucket: k.bucket, Grain: q.Grain, Currency: currency}
			sums[k] = r
		}
		r.Amount = r.Amount.Add(amount)
		r.Count++
	}

	rows := make([]Row, 0, len(sums))
	for _, r := range sums {
		rows = append(rows, *r)
	}
	sortRows(rows)
	return rows, nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Bucket.Equal(b.Bucket.Time) {
			return a.Bucket.Before(b.Bucket.Time)
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Currency < b.Currency
	})
}

func currencySet(cs []string) map[string]struct{} {
	if len(cs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		set[c] = struct{}{}
	}
	return set
}

// Totals sums rows per currency.
func Totals(rows []Row) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range rows {
		out[r.Currency] = out[r.Currency].Add(r.Amount)
	}
	return out
}

// Sum adds rows into a single amount. Rows in more than one currency are a
// *CurrencyMismatchError; convert them first with Query.Target.
func Sum(rows []Row) (core.Amount, error) {
	totals := Totals(rows)
	switch len(totals) {
	case 0:
		return core.Amount{}, nil
	case 1:
		for c, n := range totals {
			return core.Amount{Number: n, Currency: c}, nil
		}
	}
	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	return core.Amount{}, &CurrencyMismatchError{Currencies: currencies}
}

// AsPostings re-expresses rows as postings dated at their bucket start, with
// the row key as account. Aggregating the result with the same grouping gives
// back the same totals.
func AsPostings(rows []Row) []core.Posting {
	out := make([]core.Posting, len(rows))
	for i, r := range rows {
		out[i] = core.Posting{
			TxnID:    i,
			Date:     r.Bucket,
			Account:  r.Key,
			Amount:   r.Amount,
			Currency: r.Currency,
		}
	}
	return out
}

// Buckets lists every bucket start from the bucket containing from up to the
// one containing to, inclusive.
func Buckets(g core.Grain, from, to core.Date) []core.Date {
	if from.IsZero() || to.IsZero() || to.Before(from.Time) {
		return nil
	}
	var out []core.Date
	last := g.BucketStart(to)
	for b := g.BucketStart(from); !b.After(last.Time); b = g.NextBucket(b) {
		out = append(out, b)
	}
	return out
}

// Keys returns the distinct row keys, sorted.
func Keys(rows []Row) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r.Key)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
