package aggregate

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

func posting(account string, date core.Date, amount, currency string) core.Posting {
	return core.Posting{Date: date, Account: account, Amount: core.MustNumber(amount), Currency: currency}
}

func d(y, m, day int) core.Date { return core.NewDate(y, m, day) }

var fixture = []core.Posting{
	posting("Expenses:Food:Groceries", d(2024, 1, 5), "20", "USD"),
	posting("Assets:Bank:Checking", d(2024, 1, 5), "-20", "USD"),
	posting("Expenses:Food:Restaurants", d(2024, 1, 20), "30", "USD"),
	posting("Assets:Bank:Checking", d(2024, 1, 20), "-30", "USD"),
	posting("Income:Salary", d(2024, 1, 31), "-1000", "USD"),
	posting("Assets:Bank:Checking", d(2024, 1, 31), "1000", "USD"),
	posting("Expenses:Travel", d(2024, 2, 10), "100", "EUR"),
	posting("Assets:Bank:Euro", d(2024, 2, 10), "-100", "EUR"),
	posting("Expenses:Food:Groceries", d(2024, 3, 2), "15.25", "USD"),
	posting("Assets:Bank:Checking", d(2024, 3, 2), "-15.25", "USD"),
}

func TestAggregate_Example(t *testing.T) {
	postings := []core.Posting{
		posting("Expenses:Food", d(2024, 1, 5), "-20", "USD"),
		posting("Expenses:Food", d(2024, 1, 20), "-30", "USD"),
	}
	rows, err := Aggregate(postings, Query{GroupBy: ByAccount, Grain: core.Monthly})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %+v, want one row", rows)
	}
	r := rows[0]
	if r.Key != "Expenses:Food" || r.Label() != "2024-01" || r.Currency != "USD" || !r.Amount.Equal(core.MustNumber("-50")) {
		t.Errorf("row = %+v (label %s)", r, r.Label())
	}
	if r.Count != 2 {
		t.Errorf("Count = %d, want 2", r.Count)
	}
}

func TestAggregate_Empty(t *testing.T) {
	rows, err := Aggregate(nil, Query{GroupBy: ByAccount, Grain: core.Daily})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %+v, want none", rows)
	}
}

func TestAggregate_InvalidGrouping(t *testing.T) {
	_, err := Aggregate(fixture, Query{GroupBy: "xyz", Grain: core.Monthly})
	var ge *InvalidGroupingError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *InvalidGroupingError", err)
	}
	if ge.Dimension != "xyz" {
		t.Errorf("Dimension = %q", ge.Dimension)
	}

	if _, err := ParseDimension("xyz"); !errors.As(err, &ge) {
		t.Errorf("ParseDimension error = %v", err)
	}
	if dim, err := ParseDimension(" Category "); err != nil || dim != ByCategory {
		t.Errorf("ParseDimension(Category) = %v, %v", dim, err)
	}
}

func TestAggregate_InvalidGrain(t *testing.T) {
	_, err := Aggregate(fixture, Query{GroupBy: ByAccount, Grain: "fortnightly"})
	if !errors.Is(err, core.ErrInvalidGrain) {
		t.Fatalf("error = %v, want ErrInvalidGrain", err)
	}
}

func TestAggregate_Conservation(t *testing.T) {
	want := make(map[string]decimal.Decimal)
	for _, p := range fixture {
		want[p.Currency] = want[p.Currency].Add(p.Amount)
	}

	for _, dim := range []Dimension{ByAccount, ByCategory, ByType, ByTotal} {
		for _, g := range core.Grains() {
			t.Run(string(dim)+"/"+string(g), func(t *testing.T) {
				rows, err := Aggregate(fixture, Query{GroupBy: dim, Grain: g})
				if err != nil {
					t.Fatal(err)
				}
				got := Totals(rows)
				if len(got) != len(want) {
					t.Fatalf("currencies = %v, want %v", got, want)
				}
				for c, n := range want {
					if !got[c].Equal(n) {
						t.Errorf("%s total = %s, want %s", c, got[c], n)
					}
				}
				count := 0
				for _, r := range rows {
					count += r.Count
				}
				if count != len(fixture) {
					t.Errorf("counted %d postings, want %d", count, len(fixture))
				}
			})
		}
	}
}

func TestAggregate_Ordering(t *testing.T) {
	rows, err := Aggregate(fixture, Query{GroupBy: ByCategory, Grain: core.Monthly, Depth: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ label, key, currency string }{
		{"2024-01", "Assets:Bank", "USD"},
		{"2024-01", "Expenses:Food", "USD"},
		{"2024-01", "Income:Salary", "USD"},
		{"2024-02", "Assets:Bank", "EUR"},
		{"2024-02", "Expenses:Travel", "EUR"},
		{"2024-03", "Assets:Bank", "USD"},
		{"2024-03", "Expenses:Food", "USD"},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %d, want %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		if rows[i].Label() != w.label || rows[i].Key != w.key || rows[i].Currency != w.currency {
			t.Errorf("row %d = %s %s %s, want %v", i, rows[i].Label(), rows[i].Key, rows[i].Currency, w)
		}
	}
	if !rows[0].Amount.Equal(core.MustNumber("950")) {
		t.Errorf("Assets:Bank January = %s, want 950", rows[0].Amount)
	}
}

func TestAggregate_Filters(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  map[string]string
	}{
		{
			name:  "currency filter",
			query: Query{GroupBy: ByType, Grain: core.Yearly, Currencies: []string{"EUR"}},
			want:  map[string]string{"Assets": "-100", "Expenses": "100"},
		},
		{
			name:  "account prefix",
			query: Query{GroupBy: ByAccount, Grain: core.Yearly, AccountPrefix: "Expenses:Food"},
			want:  map[string]string{"Expenses:Food:Groceries": "35.25", "Expenses:Food:Restaurants": "30"},
		},
		{
			name:  "prefix is per component",
			query: Query{GroupBy: ByAccount, Grain: core.Yearly, AccountPrefix: "Expenses:Foo"},
			want:  map[string]string{},
		},
		{
			name:  "total",
			query: Query{GroupBy: ByTotal, Grain: core.Yearly, AccountPrefix: "Expenses", Currencies: []string{"USD"}},
			want:  map[string]string{TotalKey: "65.25"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Aggregate(fixture, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("rows = %+v, want %v", rows, tt.want)
			}
			for _, r := range rows {
				if !r.Amount.Equal(core.MustNumber(tt.want[r.Key])) {
					t.Errorf("%s = %s, want %s", r.Key, r.Amount, tt.want[r.Key])
				}
			}
		})
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	for _, dim := range []Dimension{ByAccount, ByCategory, ByType, ByTotal} {
		t.Run(string(dim), func(t *testing.T) {
			q := Query{GroupBy: dim, Grain: core.Monthly, Depth: 2}
			first, err := Aggregate(fixture, q)
			if err != nil {
				t.Fatal(err)
			}
			second, err := Aggregate(AsPostings(first), q)
			if err != nil {
				t.Fatal(err)
			}
			if len(first) != len(second) {
				t.Fatalf("rows %d != %d", len(first), len(second))
			}
			for i := range first {
				a, b := first[i], second[i]
				if a.Key != b.Key || !a.Bucket.Equal(b.Bucket.Time) || a.Currency != b.Currency || !a.Amount.Equal(b.Amount) {
					t.Errorf("row %d: %+v != %+v", i, a, b)
				}
			}
		})
	}
}

func TestAggregate_Conversion(t *testing.T) {
	prices := NewPriceTable([]core.Price{
		{Date: d(2024, 1, 1), Currency: "EUR", Amount: core.Amount{Number: core.MustNumber("1.10"), Currency: "USD"}},
	})

	rows, err := Aggregate(fixture, Query{GroupBy: ByType, Grain: core.Yearly, Target: "USD", Prices: prices})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.Currency != "USD" {
			t.Errorf("row %s not converted: %s", r.Key, r.Currency)
		}
	}
	sum, err := Sum(rows)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if !sum.Number.IsZero() {
		t.Errorf("balanced ledger should sum to zero, got %s", sum)
	}

	_, err = Aggregate(fixture, Query{GroupBy: ByType, Grain: core.Yearly, Target: "CHF", Prices: prices})
	var me *CurrencyMismatchError
	if !errors.As(err, &me) {
		t.Fatalf("error = %v, want *CurrencyMismatchError", err)
	}
}

func TestSum_CurrencyMismatch(t *testing.T) {
	rows, err := Aggregate(fixture, Query{GroupBy: ByTotal, Grain: core.Yearly})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Sum(rows)
	var me *CurrencyMismatchError
	if !errors.As(err, &me) {
		t.Fatalf("Sum() error = %v, want *CurrencyMismatchError", err)
	}
	if len(me.Currencies) != 2 || me.Currencies[0] != "EUR" || me.Currencies[1] != "USD" {
		t.Errorf("Currencies = %v", me.Currencies)
	}

	empty, err := Sum(nil)
	if err != nil || !empty.Number.IsZero() {
		t.Errorf("Sum(nil) = %v, %v", empty, err)
	}
}

func TestBuckets(t *testing.T) {
	got := Buckets(core.Quarterly, d(2023, 11, 15), d(2024, 5, 1))
	want := []string{"2023-Q4", "2024-Q1", "2024-Q2"}
	if len(got) != len(want) {
		t.Fatalf("Buckets() = %v", got)
	}
	for i, b := range got {
		if l := core.Quarterly.Label(b); l != want[i] {
			t.Errorf("bucket %d = %s, want %s", i, l, want[i])
		}
	}
	if Buckets(core.Monthly, d(2024, 2, 1), d(2024, 1, 1)) != nil {
		t.Errorf("reversed range should be empty")
	}
}
