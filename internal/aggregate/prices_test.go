package aggregate

import (
	"errors"
	"testing"

	"garbanzo/internal/core"
)

func TestPriceTable_Rate(t *testing.T) {
	table := NewPriceTable([]core.Price{
		{Date: d(2024, 1, 1), Currency: "EUR", Amount: core.Amount{Number: core.MustNumber("1.10"), Currency: "USD"}},
		{Date: d(2024, 2, 1), Currency: "EUR", Amount: core.Amount{Number: core.MustNumber("1.20"), Currency: "USD"}},
		{Date: d(2024, 2, 1), Currency: "EUR", Amount: core.Amount{Number: core.MustNumber("1.25"), Currency: "USD"}},
		{Date: d(2024, 3, 1), Currency: "USD", Amount: core.Amount{Number: core.MustNumber("0.5"), Currency: "EUR"}},
	})

	tests := []struct {
		name     string
		from, to string
		date     core.Date
		want     string
		ok       bool
	}{
		{"same currency", "USD", "USD", d(2020, 1, 1), "1", true},
		{"before first quote", "EUR", "USD", d(2023, 12, 31), "", false},
		{"direct", "EUR", "USD", d(2024, 1, 15), "1.1", true},
		{"same day replaces", "EUR", "USD", d(2024, 2, 1), "1.25", true},
		{"inverse", "USD", "EUR", d(2024, 1, 15), "0.9090909090909091", true},
		{"newer inverse wins", "EUR", "USD", d(2024, 3, 2), "2", true},
		{"unknown pair", "EUR", "CHF", d(2024, 3, 2), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, ok := table.Rate(tt.from, tt.to, tt.date)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && rate.String() != tt.want {
				t.Errorf("rate = %s, want %s", rate, tt.want)
			}
		})
	}
	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestPriceTable_Convert(t *testing.T) {
	var empty *PriceTable
	_, err := empty.Convert(core.MustNumber("5"), "EUR", "USD", d(2024, 1, 1))
	var me *CurrencyMismatchError
	if !errors.As(err, &me) {
		t.Fatalf("error = %v, want *CurrencyMismatchError", err)
	}
	if me.Date.String() != "2024-01-01" {
		t.Errorf("Date = %s", me.Date)
	}

	n, err := empty.Convert(core.MustNumber("5"), "USD", "USD", d(2024, 1, 1))
	if err != nil || n.String() != "5" {
		t.Errorf("identity convert = %s, %v", n, err)
	}
}
