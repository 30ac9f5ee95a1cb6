// Package ledger loads beancount ledgers into immutable snapshots.
//
// A Snapshot is the only handle the rest of the application has on a ledger:
// it is created by Load (or rebuilt from storage), passed explicitly to
// whoever needs it and replaced wholesale on reload. Nothing in a snapshot is
// mutated after construction; accessors return copies.
package ledger

import (
	"slices"
	"sort"
	"time"

	"garbanzo/internal/core"
)

const defaultCurrency = "USD"

// Options holds the values of option directives. Repeatable options such as
// operating_currency keep every value in file order.
type Options map[string][]string

// Get returns the last value of an option, or "".
func (o Options) Get(name string) string {
	vals := o[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// FilterOptions restricts a snapshot to a closed date range. Zero dates are
// unbounded.
type FilterOptions struct {
	MinDate core.Date
	MaxDate core.Date
}

func (f FilterOptions) contains(d core.Date) bool {
	if !f.MinDate.IsZero() && d.Before(f.MinDate.Time) {
		return false
	}
	if !f.MaxDate.IsZero() && d.After(f.MaxDate.Time) {
		return false
	}
	return true
}

// IsZero reports whether the filter keeps everything.
func (f FilterOptions) IsZero() bool {
	return f.MinDate.IsZero() && f.MaxDate.IsZero()
}

type Snapshot struct {
	source       string
	checksum     string
	loadedAt     time.Time
	config       Config
	options      Options
	accounts     map[string]core.Date
	transactions []core.Transaction
	postings     []core.Posting
	prices       []core.Price
}

// Contents is the raw material of a snapshot.
type Contents struct {
	Source       string
	Checksum     string
	LoadedAt     time.Time
	Config       Config
	Options      Options
	Accounts     map[string]core.Date // open directives
	Transactions []core.Transaction
	Postings     []core.Posting
	Prices       []core.Price
}

// NewSnapshot copies c into an immutable snapshot. Postings and prices are
// stably sorted by date.
func NewSnapshot(c Contents) *Snapshot {
	s := &Snapshot{
		source:       c.Source,
		checksum:     c.Checksum,
		loadedAt:     c.LoadedAt,
		config:       c.Config.clone(),
		options:      make(Options, len(c.Options)),
		accounts:     make(map[string]core.Date, len(c.Accounts)),
		transactions: cloneTransactions(c.Transactions),
		postings:     clonePostings(c.Postings),
		prices:       slices.Clone(c.Prices),
	}
	for k, v := range c.Options {
		s.options[k] = slices.Clone(v)
	}
	for k, v := range c.Accounts {
		s.accounts[k] = v
	}
	sort.SliceStable(s.postings, func(i, j int) bool {
		return s.postings[i].Date.Before(s.postings[j].Date.Time)
	})
	sort.SliceStable(s.prices, func(i, j int) bool {
		return s.prices[i].Date.Before(s.prices[j].Date.Time)
	})
	return s
}

func (s *Snapshot) Source() string      { return s.source }
func (s *Snapshot) Checksum() string    { return s.checksum }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }
func (s *Snapshot) Config() Config      { return s.config.clone() }

// Options returns a copy of the ledger options.
func (s *Snapshot) Options() Options {
	out := make(Options, len(s.options))
	for k, v := range s.options {
		out[k] = slices.Clone(v)
	}
	return out
}

// Postings returns a deep copy of the postings in date order.
func (s *Snapshot) Postings() []core.Posting {
	return clonePostings(s.postings)
}

// Transactions returns a deep copy of the transactions in file order.
func (s *Snapshot) Transactions() []core.Transaction {
	return cloneTransactions(s.transactions)
}

func clonePostings(in []core.Posting) []core.Posting {
	if in == nil {
		return nil
	}
	out := make([]core.Posting, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

func cloneTransactions(in []core.Transaction) []core.Transaction {
	if in == nil {
		return nil
	}
	out := make([]core.Transaction, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

// Prices returns a copy of the price directives in date order.
func (s *Snapshot) Prices() []core.Price {
	return slices.Clone(s.prices)
}

// OpenAccounts returns the accounts declared with open directives and their
// open dates.
func (s *Snapshot) OpenAccounts() map[string]core.Date {
	out := make(map[string]core.Date, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out
}

// Len returns the number of postings.
func (s *Snapshot) Len() int {
	return len(s.postings)
}

// MainCurrency is the first operating currency, USD when none is set.
func (s *Snapshot) MainCurrency() string {
	if cur := s.options["operating_currency"]; len(cur) > 0 {
		return cur[0]
	}
	return defaultCurrency
}

// AccountTypes returns the root names, honoring name_* options.
func (s *Snapshot) AccountTypes() core.AccountTypes {
	t := core.DefaultAccountTypes()
	if v := s.options.Get("name_assets"); v != "" {
		t.Assets = v
	}
	if v := s.options.Get("name_liabilities"); v != "" {
		t.Liabilities = v
	}
	if v := s.options.Get("name_income"); v != "" {
		t.Income = v
	}
	if v := s.options.Get("name_expenses"); v != "" {
		t.Expenses = v
	}
	if v := s.options.Get("name_equity"); v != "" {
		t.Equity = v
	}
	return t
}

// Currencies returns every posting currency, sorted.
func (s *Snapshot) Currencies() []string {
	seen := make(map[string]struct{})
	for _, p := range s.postings {
		seen[p.Currency] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Filter returns a new snapshot keeping only the transactions and postings
// dated inside f. Prices are kept whole so conversions inside the range can
// use quotes from before it. The receiver is left untouched.
func (s *Snapshot) Filter(f FilterOptions) *Snapshot {
	if f.IsZero() {
		return s
	}
	out := &Snapshot{
		source:   s.source,
		checksum: s.checksum,
		loadedAt: s.loadedAt,
		config:   s.config,
		options:  s.options,
		accounts: s.accounts,
		prices:   s.prices,
	}
	for _, t := range s.transactions {
		if f.contains(t.Date) {
			out.transactions = append(out.transactions, t)
		}
	}
	for _, p := range s.postings {
		if f.contains(p.Date) {
			out.postings = append(out.postings, p)
		}
	}
	return out
}
