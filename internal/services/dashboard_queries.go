package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/core"
	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
)

var ErrInvalidRange = errors.New("from date is after to date")

// Range bounds a query by posting date. Zero dates are open; a zero From
// falls back to the ledger's default-start-date.
type Range struct {
	From core.Date
	To   core.Date
}

func (r Range) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To.Time) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

func (r Range) String() string {
	return r.From.String() + ".." + r.To.String()
}

type AggregateRequest struct {
	GroupBy    aggregate.Dimension
	Grain      core.Grain
	Currencies []string
	Depth      int
	Account    string
	Target     string
	Range      Range
}

// FlowRequest selects one cash-flow series. Convert folds other priced
// currencies into Currency; without it only postings in Currency count.
type FlowRequest struct {
	Account    string
	Grain      core.Grain
	Currency   string
	Depth      int
	AdjustSign bool
	Convert    bool
	Range      Range
}

type IncomeExpenseRequest struct {
	Grain    core.Grain
	Currency string
	Convert  bool
	Range    Range
}

type StackRequest struct {
	Account  string
	Grain    core.Grain
	Currency string
	Depth    int
	Segments int
	Convert  bool
	Range    Range
}

// snapshotFor returns the loaded snapshot and the effective range.
func (s *DashboardService) snapshotFor(r Range) (*loaded, Range, error) {
	cur := s.current.Load()
	if cur == nil {
		return nil, r, ErrNotLoaded
	}
	if r.From.IsZero() {
		r.From = cur.snap.Config().DefaultStartDate
	}
	if err := r.Validate(); err != nil {
		return nil, r, err
	}
	return cur, r, nil
}

func postingsIn(snap *ledger.Snapshot, r Range) []core.Posting {
	return snap.Filter(ledger.FilterOptions{MinDate: r.From, MaxDate: r.To}).Postings()
}

func (s *DashboardService) grain(g core.Grain) core.Grain {
	if g == "" {
		return s.cfg.Grain
	}
	return g
}

// depth picks the request depth, then the ledger's default-account-depth,
// then the configured default.
func (s *DashboardService) depth(d int, snap *ledger.Snapshot) int {
	if d > 0 {
		return d
	}
	if ld := snap.Config().DefaultAccountDepth; ld > 0 {
		return ld
	}
	return s.cfg.Depth
}

func cacheKey(checksum, kind string, parts ...any) string {
	var b strings.Builder
	b.WriteString(checksum)
	b.WriteString("|")
	b.WriteString(kind)
	for _, p := range parts {
		fmt.Fprintf(&b, "|%v", p)
	}
	return b.String()
}

// Aggregate groups the current snapshot's postings.
func (s *DashboardService) Aggregate(ctx context.Context, req AggregateRequest) ([]aggregate.Row, error) {
	cur, rng, err := s.snapshotFor(req.Range)
	if err != nil {
		return nil, err
	}
	if req.GroupBy == "" {
		req.GroupBy = aggregate.ByAccount
	}
	q := aggregate.Query{
		GroupBy:       req.GroupBy,
		Grain:         s.grain(req.Grain),
		Currencies:    slices.Clone(req.Currencies),
		Depth:         req.Depth,
		AccountPrefix: req.Account,
		Target:        req.Target,
	}
	if q.GroupBy == aggregate.ByCategory {
		q.Depth = s.depth(req.Depth, cur.snap)
	}
	if q.Target != "" {
		q.Prices = cur.prices
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	slices.Sort(q.Currencies)

	key := cacheKey(cur.snap.Checksum(), "aggregate", q.GroupBy, q.Grain, strings.Join(q.Currencies, ","), q.Depth, q.AccountPrefix, q.Target, rng)
	return s.rows.Get(ctx, key, func(ctx context.Context) ([]aggregate.Row, error) {
		rows, err := aggregate.Aggregate(postingsIn(cur.snap, rng), q)
		if err == nil {
			s.logger.DebugContext(ctx, "Aggregated postings",
				append(log.NewFields().WithQuery(q.GroupBy.String(), q.Grain.String(), q.Target).ToSlice(), log.FieldRows, len(rows))...)
		}
		return rows, err
	})
}

// Flows returns the cash-flow series under an account. The currency
// defaults to the ledger's main currency.
func (s *DashboardService) Flows(ctx context.Context, req FlowRequest) ([]aggregate.Row, error) {
	cur, rng, err := s.snapshotFor(req.Range)
	if err != nil {
		return nil, err
	}
	q := aggregate.FlowQuery{
		Account:    req.Account,
		Grain:      s.grain(req.Grain),
		Currency:   req.Currency,
		Depth:      req.Depth,
		AdjustSign: req.AdjustSign,
		Types:      cur.snap.AccountTypes(),
		Convert:    req.Convert,
		Prices:     cur.prices,
		From:       rng.From,
		To:         rng.To,
	}
	if q.Currency == "" {
		q.Currency = cur.snap.MainCurrency()
	}

	key := cacheKey(cur.snap.Checksum(), "flows", q.Account, q.Grain, q.Currency, q.Depth, q.AdjustSign, q.Convert, rng)
	return s.rows.Get(ctx, key, func(context.Context) ([]aggregate.Row, error) {
		return aggregate.Flows(postingsIn(cur.snap, rng), q)
	})
}

// IncomeExpense returns the income statement series, with the ledger's
// income-deduction-account entries subtracted for Disposable.
func (s *DashboardService) IncomeExpense(ctx context.Context, req IncomeExpenseRequest) ([]aggregate.IncomeExpenseRow, error) {
	cur, rng, err := s.snapshotFor(req.Range)
	if err != nil {
		return nil, err
	}
	q := aggregate.IncomeExpenseQuery{
		Grain:             s.grain(req.Grain),
		Currency:          req.Currency,
		Types:             cur.snap.AccountTypes(),
		DeductionAccounts: cur.snap.Config().IncomeDeductionAccounts,
		Convert:           req.Convert,
		Prices:            cur.prices,
	}
	if q.Currency == "" {
		q.Currency = cur.snap.MainCurrency()
	}

	key := cacheKey(cur.snap.Checksum(), "income_expense", q.Grain, q.Currency, q.Convert, rng)
	return s.incomes.Get(ctx, key, func(context.Context) ([]aggregate.IncomeExpenseRow, error) {
		return aggregate.IncomeExpense(postingsIn(cur.snap, rng), q)
	})
}

// Stack splits the flows under an account by sub-account and keeps the
// largest segments per bucket. Account defaults to the expenses root.
func (s *DashboardService) Stack(ctx context.Context, req StackRequest) ([]aggregate.Segment, error) {
	cur, rng, err := s.snapshotFor(req.Range)
	if err != nil {
		return nil, err
	}
	if req.Account == "" {
		req.Account = cur.snap.AccountTypes().Expenses
	}
	if req.Segments <= 0 {
		req.Segments = s.cfg.Segments
	}
	q := aggregate.FlowQuery{
		Account:    req.Account,
		Grain:      s.grain(req.Grain),
		Currency:   req.Currency,
		Depth:      s.depth(req.Depth, cur.snap),
		AdjustSign: true,
		Types:      cur.snap.AccountTypes(),
		Convert:    req.Convert,
		Prices:     cur.prices,
	}
	if q.Currency == "" {
		q.Currency = cur.snap.MainCurrency()
	}

	key := cacheKey(cur.snap.Checksum(), "stack", q.Account, q.Grain, q.Currency, q.Depth, req.Segments, q.Convert, rng)
	return s.segments.Get(ctx, key, func(context.Context) ([]aggregate.Segment, error) {
		rows, err := aggregate.Flows(postingsIn(cur.snap, rng), q)
		if err != nil {
			return nil, err
		}
		return aggregate.Stack(rows, req.Segments), nil
	})
}

// RunningBalance returns the daily closing balances of an account. Postings
// before r.From still count toward the balance; only the points are
// clipped to the range.
func (s *DashboardService) RunningBalance(ctx context.Context, account string, r Range) ([]aggregate.BalancePoint, error) {
	cur := s.current.Load()
	if cur == nil {
		return nil, ErrNotLoaded
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey(cur.snap.Checksum(), "balance", account, r)
	return s.points.Get(ctx, key, func(context.Context) ([]aggregate.BalancePoint, error) {
		postings := cur.snap.Filter(ledger.FilterOptions{MaxDate: r.To}).Postings()
		var out []aggregate.BalancePoint
		for p := range aggregate.RunningBalance(postings, account) {
			if !r.From.IsZero() && p.Date.Before(r.From.Time) {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	})
}

// Accounts returns the closing balance of every account and currency.
func (s *DashboardService) Accounts(ctx context.Context) ([]core.AccountSummary, error) {
	cur := s.current.Load()
	if cur == nil {
		return nil, ErrNotLoaded
	}
	return s.accounts.Get(ctx, cacheKey(cur.snap.Checksum(), "accounts"), func(context.Context) ([]core.AccountSummary, error) {
		return aggregate.Balances(cur.snap.Postings()), nil
	})
}
