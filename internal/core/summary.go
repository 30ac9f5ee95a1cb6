package core

import "github.com/shopspring/decimal"

// AccountSummary is the closing balance of one account in one currency.
type AccountSummary struct {
	Account  string
	Currency string
	Balance  decimal.Decimal
	Postings int
	First    Date
	Last     Date
}
