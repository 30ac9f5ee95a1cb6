package aggregate

import (
	"iter"
	"sort"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

// BalancePoint is the closing balance of an account in one currency at the
// end of a day.
type BalancePoint struct {
	Date     core.Date
	Currency string
	Balance  decimal.Decimal
}

// RunningBalance yields the balance of account and its sub-accounts after
// every day with activity, one point per currency moved that day, in date
// then currency order. An empty account covers every posting.
//
// The sequence holds no state between iterations: ranging over it twice
// yields the same points.
func RunningBalance(postings []core.Posting, account string) iter.Seq[BalancePoint] {
	return func(yield func(BalancePoint) bool) {
		var selected []core.Posting
		for _, p := range postings {
			if core.AccountHasPrefix(p.Account, account) {
				selected = append(selected, p)
			}
		}
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].Date.Before(selected[j].Date.Time)
		})

		balances := make(map[string]decimal.Decimal)
		for i := 0; i < len(selected); {
			day := selected[i].Date
			moved := make(map[string]struct{})
			for ; i < len(selected) && selected[i].Date.Equal(day.Time); i++ {
				p := selected[i]
				moved[p.Currency] = struct{}{}
				balances[p.Currency] = balances[p.Currency].Add(p.Amount)
			}
			currencies := make([]string, 0, len(moved))
			for c := range moved {
				currencies = append(currencies, c)
			}
			sort.Strings(currencies)
			for _, c := range currencies {
				if !yield(BalancePoint{Date: day, Currency: c, Balance: balances[c]}) {
					return
				}
			}
		}
	}
}

// Balances returns the closing balance of every account and currency, sorted
// by account then currency.
func Balances(postings []core.Posting) []core.AccountSummary {
	type key struct{ account, currency string }
	sums := make(map[key]*core.AccountSummary)
	for _, p := range postings {
		k := key{p.Account, p.Currency}
		s, ok := sums[k]
		if !ok {
			s = &core.AccountSummary{Account: p.Account, Currency: p.Currency, First: p.Date, Last: p.Date}
			sums[k] = s
		}
		s.Balance = s.Balance.Add(p.Amount)
		s.Postings++
		if p.Date.Before(s.First.Time) {
			s.First = p.Date
		}
		if p.Date.After(s.Last.Time) {
			s.Last = p.Date
		}
	}
	out := make([]core.AccountSummary, 0, len(sums))
	for _, s := range sums {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}
