package services

import (
	"fmt"
	"sort"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/core"
	"garbanzo/internal/ledger"
	"garbanzo/internal/sheets"
)

// TableBuilder turns a snapshot into one export table. Each exported table
// has its own builder, looked up by name.
type TableBuilder interface {
	Build(snap *ledger.Snapshot, prices *aggregate.PriceTable) (sheets.Table, error)
}

// Default table names.
const (
	TableMonthly  = "Monthly"
	TableFlows    = "Flows"
	TableBalances = "Balances"
)

// MonthlyTable is the income statement per month in the main currency.
// Priced currencies are converted; postings without a rate are left out.
type MonthlyTable struct{}

func (MonthlyTable) Build(snap *ledger.Snapshot, prices *aggregate.PriceTable) (sheets.Table, error) {
	rows, err := aggregate.IncomeExpense(snap.Postings(), aggregate.IncomeExpenseQuery{
		Grain:             core.Monthly,
		Currency:          snap.MainCurrency(),
		Types:             snap.AccountTypes(),
		DeductionAccounts: snap.Config().IncomeDeductionAccounts,
		Convert:           true,
		Prices:            prices,
	})
	if err != nil {
		return sheets.Table{}, err
	}

	t := sheets.Table{
		Name:   TableMonthly,
		Header: []string{"Month", "Currency", "Income", "Disposable", "Expenses", "Savings"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Label(), r.Currency,
			r.Income.String(), r.Disposable.String(), r.Expenses.String(), r.Savings.String(),
		})
	}
	return t, nil
}

// FlowsTable lists monthly income and expense flows per account, truncated
// at the ledger's default account depth.
type FlowsTable struct{}

func (FlowsTable) Build(snap *ledger.Snapshot, prices *aggregate.PriceTable) (sheets.Table, error) {
	types := snap.AccountTypes()
	depth := snap.Config().DefaultAccountDepth
	if depth <= 0 {
		depth = 2
	}

	t := sheets.Table{
		Name:   TableFlows,
		Header: []string{"Month", "Account", "Currency", "Amount"},
	}
	postings := snap.Postings()
	for _, root := range []string{types.Income, types.Expenses} {
		rows, err := aggregate.Flows(postings, aggregate.FlowQuery{
			Account:    root,
			Grain:      core.Monthly,
			Currency:   snap.MainCurrency(),
			Depth:      depth,
			AdjustSign: true,
			Types:      types,
			Convert:    true,
			Prices:     prices,
		})
		if err != nil {
			return sheets.Table{}, fmt.Errorf("%s flows: %w", root, err)
		}
		for _, r := range rows {
			t.Rows = append(t.Rows, []string{r.Label(), r.Key, r.Currency, r.Amount.String()})
		}
	}
	return t, nil
}

// BalancesTable is the closing balance of every account and currency.
type BalancesTable struct{}

func (BalancesTable) Build(snap *ledger.Snapshot, _ *aggregate.PriceTable) (sheets.Table, error) {
	t := sheets.Table{
		Name:   TableBalances,
		Header: []string{"Account", "Currency", "Balance", "Postings", "First", "Last"},
	}
	for _, s := range aggregate.Balances(snap.Postings()) {
		t.Rows = append(t.Rows, []string{
			s.Account, s.Currency, s.Balance.String(),
			fmt.Sprint(s.Postings), s.First.String(), s.Last.String(),
		})
	}
	return t, nil
}

var tableBuilders = map[string]TableBuilder{
	TableMonthly:  MonthlyTable{},
	TableFlows:    FlowsTable{},
	TableBalances: BalancesTable{},
}

// GetTableBuilder returns the builder registered under name.
func GetTableBuilder(name string) (TableBuilder, error) {
	b, ok := tableBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown export table: %s", name)
	}
	return b, nil
}

// RegisterTableBuilder adds or replaces the builder for name.
func RegisterTableBuilder(name string, b TableBuilder) {
	tableBuilders[name] = b
}

// TableNames lists the registered tables, sorted.
func TableNames() []string {
	out := make([]string, 0, len(tableBuilders))
	for name := range tableBuilders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
