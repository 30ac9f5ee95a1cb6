package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

type pair struct{ base, quote string }

type quote struct {
	date core.Date
	rate decimal.Decimal
}

// PriceTable answers "how many units of B is one unit of A worth on a day",
// using the latest price directive on or before that day.
type PriceTable struct {
	quotes map[pair][]quote
}

// NewPriceTable indexes prices by currency pair. Later directives for the same
// pair and day replace earlier ones.
func NewPriceTable(prices []core.Price) *PriceTable {
	t := &PriceTable{quotes: make(map[pair][]quote)}
	for _, p := range prices {
		k := pair{p.Currency, p.Amount.Currency}
		t.quotes[k] = append(t.quotes[k], quote{date: p.Date, rate: p.Amount.Number})
	}
	for k, qs := range t.quotes {
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].date.Before(qs[j].date.Time) })
		dedup := qs[:0]
		for _, q := range qs {
			if n := len(dedup); n > 0 && dedup[n-1].date.Equal(q.date.Time) {
				dedup[n-1] = q
				continue
			}
			dedup = append(dedup, q)
		}
		t.quotes[k] = dedup
	}
	return t
}

// Len returns the number of currency pairs with quotes.
func (t *PriceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.quotes)
}

func (t *PriceTable) latest(k pair, date core.Date) (quote, bool) {
	qs := t.quotes[k]
	i := sort.Search(len(qs), func(i int) bool { return qs[i].date.After(date.Time) })
	if i == 0 {
		return quote{}, false
	}
	return qs[i-1], true
}

// Rate returns the price of one unit of from in to. A direct quote wins over
// an inverse one unless the inverse is more recent.
func (t *PriceTable) Rate(from, to string, date core.Date) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if t == nil {
		return decimal.Zero, false
	}
	direct, okDirect := t.latest(pair{from, to}, date)
	inverse, okInverse := t.latest(pair{to, from}, date)
	switch {
	case okInverse && (!okDirect || inverse.date.After(direct.date.Time)):
		if inverse.rate.IsZero() {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(1).Div(inverse.rate), true
	case okDirect:
		return direct.rate, true
	}
	return decimal.Zero, false
}

// Convert expresses n units of from in to, as of date.
func (t *PriceTable) Convert(n decimal.Decimal, from, to string, date core.Date) (decimal.Decimal, error) {
	rate, ok := t.Rate(from, to, date)
	if !ok {
		return decimal.Zero, &CurrencyMismatchError{Currencies: []string{from, to}, Date: date}
	}
	return n.Mul(rate), nil
}
