package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/core"
	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
	"garbanzo/internal/services"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a query error to its HTTP status.
func statusFor(err error) int {
	var (
		pe *paramError
		ge *aggregate.InvalidGroupingError
		ce *aggregate.CurrencyMismatchError
		le *ledger.LoadError
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &ge),
		errors.Is(err, core.ErrInvalidGrain), errors.Is(err, services.ErrInvalidRange),
		errors.Is(err, core.ErrInvalidCurrency), errors.Is(err, core.ErrEmptyCurrency):
		return http.StatusBadRequest
	case errors.As(err, &ce), errors.Is(err, aggregate.ErrNoCurrency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrNotLoaded), errors.As(err, &le):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs the failure and answers with a JSON error body. Internal
// errors are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := log.FromContext(r.Context())
	msg := err.Error()
	if status >= 500 {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldError, err, log.FieldPath, r.URL.Path)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldError, err, log.FieldStatusCode, status)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

type rowJSON struct {
	Key      string          `json:"key"`
	Bucket   string          `json:"bucket"`
	Label    string          `json:"label"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int             `json:"count"`
}

func toRows(rows []aggregate.Row) []rowJSON {
	out := make([]rowJSON, len(rows))
	for i, r := range rows {
		out[i] = rowJSON{
			Key:      r.Key,
			Bucket:   r.Bucket.String(),
			Label:    r.Label(),
			Currency: r.Currency,
			Amount:   r.Amount,
			Count:    r.Count,
		}
	}
	return out
}

type incomeExpenseJSON struct {
	Bucket     string          `json:"bucket"`
	Label      string          `json:"label"`
	Currency   string          `json:"currency"`
	Income     decimal.Decimal `json:"income"`
	Disposable decimal.Decimal `json:"disposable"`
	Expenses   decimal.Decimal `json:"expenses"`
	Savings    decimal.Decimal `json:"savings"`
}

func toIncomeExpense(rows []aggregate.IncomeExpenseRow) []incomeExpenseJSON {
	out := make([]incomeExpenseJSON, len(rows))
	for i, r := range rows {
		out[i] = incomeExpenseJSON{
			Bucket:     r.Bucket.String(),
			Label:      r.Label(),
			Currency:   r.Currency,
			Income:     r.Income,
			Disposable: r.Disposable,
			Expenses:   r.Expenses,
			Savings:    r.Savings,
		}
	}
	return out
}

type segmentJSON struct {
	Bucket   string          `json:"bucket"`
	Label    string          `json:"label"`
	Key      string          `json:"key"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Percent  decimal.Decimal `json:"percent"`
	Rank     int             `json:"rank"`
}

func toSegments(segs []aggregate.Segment) []segmentJSON {
	out := make([]segmentJSON, len(segs))
	for i, s := range segs {
		out[i] = segmentJSON{
			Bucket:   s.Bucket.String(),
			Label:    s.Label(),
			Key:      s.Key,
			Currency: s.Currency,
			Amount:   s.Amount,
			Percent:  s.Percent,
			Rank:     s.Rank,
		}
	}
	return out
}

type balanceJSON struct {
	Date     string          `json:"date"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

func toBalances(points []aggregate.BalancePoint) []balanceJSON {
	out := make([]balanceJSON, len(points))
	for i, p := range points {
		out[i] = balanceJSON{Date: p.Date.String(), Currency: p.Currency, Balance: p.Balance}
	}
	return out
}

type accountJSON struct {
	Account  string          `json:"account"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Postings int             `json:"postings"`
	First    string          `json:"first"`
	Last     string          `json:"last"`
}

func toAccounts(summaries []core.AccountSummary) []accountJSON {
	out := make([]accountJSON, len(summaries))
	for i, s := range summaries {
		out[i] = accountJSON{
			Account:  s.Account,
			Currency: s.Currency,
			Balance:  s.Balance,
			Postings: s.Postings,
			First:    s.First.String(),
			Last:     s.Last.String(),
		}
	}
	return out
}

type reloadJSON struct {
	Checksum   string `json:"checksum"`
	Postings   int    `json:"postings"`
	SnapshotID int64  `json:"snapshot_id,omitempty"`
	Changed    bool   `json:"changed"`
	DurationMs int64  `json:"duration_ms"`
}
