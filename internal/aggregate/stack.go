package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

const (
	// DefaultSegments is how many rows a stacked bar shows before folding
	// the remainder into OtherKey.
	DefaultSegments = 6
	OtherKey        = "Other"
)

// Segment is one slice of a stacked bar.
type Segment struct {
	Bucket   core.Date
	Grain    core.Grain
	Key      string
	Currency string
	Amount   decimal.Decimal
	// Percent is the share of the bucket total, rounded to 2 places. Zero
	// when the bucket nets to zero.
	Percent decimal.Decimal
	// Rank orders segments inside a bucket, largest first; charts use it as
	// the colour index.
	Rank int
}

func (s Segment) Label() string {
	return s.Grain.Label(s.Bucket)
}

type stackGroup struct {
	bucket   core.Date
	currency string
}

// Stack keeps, for every bucket and currency, the n rows with the largest
// absolute amount and folds the rest into one "Other" segment. n <= 0 uses
// DefaultSegments.
func Stack(rows []Row, n int) []Segment {
	if n <= 0 {
		n = DefaultSegments
	}
	groups := make(map[stackGroup][]Row)
	var order []stackGroup
	for _, r := range rows {
		g := stackGroup{r.Bucket, r.Currency}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], r)
	}
	sort.Slice(order, func(i, j int) bool {
		if !order[i].bucket.Equal(order[j].bucket.Time) {
			return order[i].bucket.Before(order[j].bucket.Time)
		}
		return order[i].currency < order[j].currency
	})

	hundred := decimal.NewFromInt(100)
	var out []Segment
	for _, g := range order {
		group := groups[g]
		sort.SliceStable(group, func(i, j int) bool {
			ai, aj := group[i].Amount.Abs(), group[j].Amount.Abs()
			if !ai.Equal(aj) {
				return ai.GreaterThan(aj)
			}
			return group[i].Key < group[j].Key
		})

		var total decimal.Decimal
		for _, r := range group {
			total = total.Add(r.Amount)
		}

		head := group
		var other *Segment
		if len(group) > n {
			head = group[:n]
			other = &Segment{Bucket: g.bucket, Grain: group[n].Grain, Key: OtherKey, Currency: g.currency}
			for _, r := range group[n:] {
				other.Amount = other.Amount.Add(r.Amount)
			}
		}

		segs := make([]Segment, 0, len(head)+1)
		for _, r := range head {
			segs = append(segs, Segment{Bucket: r.Bucket, Grain: r.Grain, Key: r.Key, Currency: r.Currency, Amount: r.Amount})
		}
		if other != nil {
			segs = append(segs, *other)
		}
		for i := range segs {
			segs[i].Rank = i
			if !total.IsZero() {
				segs[i].Percent = segs[i].Amount.Mul(hundred).Div(total).Round(2)
			}
		}
		out = append(out, segs...)
	}
	return out
}
