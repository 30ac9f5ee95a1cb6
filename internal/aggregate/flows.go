package aggregate

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

var ErrNoCurrency = errors.New("a currency is required")

// FlowQuery describes one cash-flow series.
type FlowQuery struct {
	// Account is the prefix whose postings are summed; empty means all.
	Account  string
	Grain    core.Grain
	Currency string
	// Depth > 0 splits the series by account truncated at that depth.
	Depth int
	// AdjustSign negates flows under income and liability roots so they
	// read as positive.
	AdjustSign bool
	Types      core.AccountTypes
	// Convert folds postings in other currencies into Currency using Prices.
	// Postings without a rate on or before their date are left out. Without
	// Convert only postings in Currency count.
	Convert bool
	Prices  *PriceTable
	// From and To widen the zero-filled range of a single series.
	From, To core.Date
}

// Flows sums postings under q.Account per time bucket in one currency. A
// single series (Depth 0) is contiguous: buckets without activity appear as
// zero rows.
func Flows(postings []core.Posting, q FlowQuery) ([]Row, error) {
	if q.Currency == "" {
		return nil, ErrNoCurrency
	}
	if q.Types == (core.AccountTypes{}) {
		q.Types = core.DefaultAccountTypes()
	}

	agg := Query{GroupBy: ByTotal, Grain: q.Grain, AccountPrefix: q.Account}
	if q.Depth > 0 {
		agg.GroupBy = ByCategory
		agg.Depth = q.Depth
	}
	if q.Convert && q.Prices != nil {
		postings = convertible(postings, q.Currency, q.Prices)
		agg.Target = q.Currency
		agg.Prices = q.Prices
	} else {
		agg.Currencies = []string{q.Currency}
	}

	rows, err := Aggregate(postings, agg)
	if err != nil {
		return nil, err
	}

	if q.AdjustSign && q.Account != "" && q.Types.IsCreditNormal(q.Account) {
		for i := range rows {
			rows[i].Amount = rows[i].Amount.Neg()
		}
	}

	if q.Depth > 0 {
		return rows, nil
	}
	key := q.Account
	if key == "" {
		key = TotalKey
	}
	for i := range rows {
		rows[i].Key = key
	}
	return fillSeries(rows, key, q.Grain, q.Currency, q.From, q.To), nil
}

// convertible keeps the postings that are in target or have a rate into it.
func convertible(postings []core.Posting, target string, prices *PriceTable) []core.Posting {
	out := make([]core.Posting, 0, len(postings))
	for _, p := range postings {
		if _, ok := prices.Rate(p.Currency, target, p.Date); ok {
			out = append(out, p)
		}
	}
	return out
}

// fillSeries inserts zero rows for empty buckets in a single sorted series.
func fillSeries(rows []Row, key string, g core.Grain, currency string, from, to core.Date) []Row {
	if len(rows) == 0 && (from.IsZero() || to.IsZero()) {
		return rows
	}
	first, last := from, to
	if len(rows) > 0 {
		if first.IsZero() || rows[0].Bucket.Before(first.Time) {
			first = rows[0].Bucket
		}
		if end := rows[len(rows)-1].Bucket; last.IsZero() || end.After(last.Time) {
			last = end
		}
	}

	byBucket := make(map[core.Date]Row, len(rows))
	for _, r := range rows {
		byBucket[r.Bucket] = r
	}
	var out []Row
	for _, b := range Buckets(g, first, last) {
		r, ok := byBucket[b]
		if !ok {
			r = Row{Key: key, Bucket: b, Grain: g, Currency: currency}
		}
		out = append(out, r)
	}
	return out
}

// IncomeExpenseRow is one bucket of the income statement chart.
type IncomeExpenseRow struct {
	Bucket     core.Date
	Grain      core.Grain
	Currency   string
	Income     decimal.Decimal
	Disposable decimal.Decimal
	Expenses   decimal.Decimal
	Savings    decimal.Decimal
}

func (r IncomeExpenseRow) Label() string {
	return r.Grain.Label(r.Bucket)
}

type IncomeExpenseQuery struct {
	Grain    core.Grain
	Currency string
	Types    core.AccountTypes
	// DeductionAccounts are subtracted from income to give Disposable,
	// e.g. taxes withheld at source.
	DeductionAccounts []string
	// Convert and Prices behave as in FlowQuery.
	Convert bool
	Prices  *PriceTable
}

// IncomeExpense builds the income, disposable income, expenses and savings
// series, sign-adjusted so income and spending are both positive. Buckets
// present on only one side get zero on the other.
func IncomeExpense(postings []core.Posting, q IncomeExpenseQuery) ([]IncomeExpenseRow, error) {
	if q.Types == (core.AccountTypes{}) {
		q.Types = core.DefaultAccountTypes()
	}
	flow := func(account string) (map[core.Date]decimal.Decimal, error) {
		rows, err := Flows(postings, FlowQuery{
			Account:    account,
			Grain:      q.Grain,
			Currency:   q.Currency,
			AdjustSign: true,
			Types:      q.Types,
			Convert:    q.Convert,
			Prices:     q.Prices,
		})
		if err != nil {
			return nil, err
		}
		out := make(map[core.Date]decimal.Decimal, len(rows))
		for _, r := range rows {
			out[r.Bucket] = r.Amount
		}
		return out, nil
	}

	income, err := flow(q.Types.Income)
	if err != nil {
		return nil, err
	}
	expenses, err := flow(q.Types.Expenses)
	if err != nil {
		return nil, err
	}
	deductions := make(map[core.Date]decimal.Decimal)
	for _, account := range q.DeductionAccounts {
		d, err := flow(account)
		if err != nil {
			return nil, err
		}
		for b, n := range d {
			deductions[b] = deductions[b].Add(n)
		}
	}

	buckets := make([]core.Date, 0, len(income)+len(expenses))
	for b := range income {
		buckets = append(buckets, b)
	}
	for b := range expenses {
		if _, ok := income[b]; !ok {
			buckets = append(buckets, b)
		}
	}
	if len(buckets) == 0 {
		return nil, nil
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j].Time) })

	var out []IncomeExpenseRow
	for _, b := range Buckets(q.Grain, buckets[0], buckets[len(buckets)-1]) {
		in, ex := income[b], expenses[b]
		out = append(out, IncomeExpenseRow{
			Bucket:     b,
			Grain:      q.Grain,
			Currency:   q.Currency,
			Income:     in,
			Disposable: in.Sub(deductions[b]),
			Expenses:   ex,
			Savings:    in.Sub(ex),
		})
	}
	return out, nil
}
