package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type (
	Date struct {
		time.Time
	}

	// Amount is a number of units of a single currency or commodity.
	Amount struct {
		Number   decimal.Decimal
		Currency string
	}

	Transaction struct {
		ID        int
		Date      Date
		Flag      string
		Payee     string
		Narration string
		Tags      []string
		Links     []string
		Meta      map[string]string
	}

	// Posting is one leg of a transaction. Postings are owned by the ledger
	// snapshot and treated as read-only everywhere else.
	Posting struct {
		TxnID    int
		Date     Date
		Account  string
		Amount   decimal.Decimal
		Currency string
		Cost     *Amount // per-unit cost, nil when absent
		Price    *Amount // per-unit price, nil when absent
		Tags     []string
		Meta     map[string]string
	}

	// Price is a dated quote of one unit of Currency in Amount.Currency.
	Price struct {
		Date     Date
		Currency string
		Amount   Amount
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrEmptyAccount    = errors.New("empty account")
	ErrInvalidAccount  = errors.New("invalid account name")
	ErrEmptyCurrency   = errors.New("empty currency")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidPrice    = errors.New("invalid price")
)

// Clone returns a copy of t that shares no tags, links or metadata with it.
func (t Transaction) Clone() Transaction {
	t.Tags = slices.Clone(t.Tags)
	t.Links = slices.Clone(t.Links)
	t.Meta = maps.Clone(t.Meta)
	return t
}

// Clone returns a copy of p that shares no cost, price, tags or metadata
// with it.
func (p Posting) Clone() Posting {
	if p.Cost != nil {
		c := *p.Cost
		p.Cost = &c
	}
	if p.Price != nil {
		pr := *p.Price
		p.Price = &pr
	}
	p.Tags = slices.Clone(p.Tags)
	p.Meta = maps.Clone(p.Meta)
	return p
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// IsEmpty returns true if the date is zero (for optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (a Amount) String() string {
	return FormatAmount(a.Number, a.Currency)
}

// Weight returns the amount the posting contributes to its transaction's
// balance: the total cost when held at cost, the converted price when priced,
// and its own units otherwise.
func (p Posting) Weight() Amount {
	switch {
	case p.Cost != nil:
		return Amount{Number: p.Amount.Mul(p.Cost.Number), Currency: p.Cost.Currency}
	case p.Price != nil:
		return Amount{Number: p.Amount.Mul(p.Price.Number), Currency: p.Price.Currency}
	default:
		return Amount{Number: p.Amount, Currency: p.Currency}
	}
}

// HasTag reports whether the posting carries the given tag.
func (p Posting) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (p Posting) Validate() error {
	if err := p.Date.Validate(); err != nil {
		return err
	}
	if err := ValidateAccount(p.Account); err != nil {
		return err
	}
	return ValidateCurrency(p.Currency)
}

func (p Price) Validate() error {
	if err := p.Date.Validate(); err != nil {
		return err
	}
	if err := ValidateCurrency(p.Currency); err != nil {
		return err
	}
	if err := ValidateCurrency(p.Amount.Currency); err != nil {
		return err
	}
	if !p.Amount.Number.IsPositive() {
		return fmt.Errorf("%w: %s per %s must be positive", ErrInvalidPrice, p.Amount, p.Currency)
	}
	return nil
}

// ValidateCurrency checks a beancount commodity name: it starts with an
// uppercase letter and contains only uppercase letters, digits and ' . _ -.
func ValidateCurrency(c string) error {
	if c == "" {
		return ErrEmptyCurrency
	}
	if len(c) > 24 || c[0] < 'A' || c[0] > 'Z' {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
	}
	for _, r := range c {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '\'', r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
		}
	}
	return nil
}
