// This file implements the Strategy Pattern for time bucketing.
// Each grain (daily, weekly, monthly, quarterly, yearly) has its own bucketer
// that knows where a bucket starts, where the next one starts and how to
// label it.

package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily     Grain = "daily"
	Weekly    Grain = "weekly"
	Monthly   Grain = "monthly"
	Quarterly Grain = "quarterly"
	Yearly    Grain = "yearly"
)

// Grain is the calendar interval used as a time-bucket key.
type Grain string

var ErrInvalidGrain = errors.New("invalid time grain")

// Bucketer is the strategy interface behind a Grain.
type Bucketer interface {
	// Start returns the first day of the bucket containing t.
	Start(t time.Time) time.Time
	// Next returns the first day of the bucket after the one starting at start.
	Next(start time.Time) time.Time
	// Label renders the bucket starting at start.
	Label(start time.Time) string
}

type dayBucketer struct{}

func (dayBucketer) Start(t time.Time) time.Time { return DateOf(t).Time }
func (dayBucketer) Next(s time.Time) time.Time  { return s.AddDate(0, 0, 1) }
func (dayBucketer) Label(s time.Time) string    { return s.Format(dateLayout) }

// weekBucketer uses ISO weeks starting on Monday.
type weekBucketer struct{}

func (weekBucketer) Start(t time.Time) time.Time {
	d := DateOf(t).Time
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
func (weekBucketer) Next(s time.Time) time.Time { return s.AddDate(0, 0, 7) }
func (weekBucketer) Label(s time.Time) string {
	y, w := s.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

type monthBucketer struct{}

func (monthBucketer) Start(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
func (monthBucketer) Next(s time.Time) time.Time { return s.AddDate(0, 1, 0) }
func (monthBucketer) Label(s time.Time) string   { return s.Format("2006-01") }

type quarterBucketer struct{}

func (quarterBucketer) Start(t time.Time) time.Time {
	m := (int(t.Month())-1)/3*3 + 1
	return time.Date(t.Year(), time.Month(m), 1, 0, 0, 0, 0, time.UTC)
}
func (quarterBucketer) Next(s time.Time) time.Time { return s.AddDate(0, 3, 0) }
func (quarterBucketer) Label(s time.Time) string {
	return fmt.Sprintf("%04d-Q%d", s.Year(), (int(s.Month())-1)/3+1)
}

type yearBucketer struct{}

func (yearBucketer) Start(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
}
func (yearBucketer) Next(s time.Time) time.Time { return s.AddDate(1, 0, 0) }
func (yearBucketer) Label(s time.Time) string   { return s.Format("2006") }

// bucketers maps grains to their strategies.
var bucketers = map[Grain]Bucketer{
	Daily:     dayBucketer{},
	Weekly:    weekBucketer{},
	Monthly:   monthBucketer{},
	Quarterly: quarterBucketer{},
	Yearly:    yearBucketer{},
}

var grainAliases = map[string]Grain{
	"day":     Daily,
	"d":       Daily,
	"week":    Weekly,
	"w":       Weekly,
	"month":   Monthly,
	"m":       Monthly,
	"quarter": Quarterly,
	"q":       Quarterly,
	"year":    Yearly,
	"y":       Yearly,
}

// Grains lists every supported grain from finest to coarsest.
func Grains() []Grain {
	return []Grain{Daily, Weekly, Monthly, Quarterly, Yearly}
}

// ParseGrain accepts the canonical names ("monthly") and the short forms
// ("month", "m").
func ParseGrain(s string) (Grain, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if g := Grain(s); g.IsValid() {
		return g, nil
	}
	if g, ok := grainAliases[s]; ok {
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGrain, s)
}

func (g Grain) String() string {
	return string(g)
}

func (g Grain) IsValid() bool {
	_, ok := bucketers[g]
	return ok
}

// Bucketer returns the strategy for g, or an error for unknown grains.
func (g Grain) Bucketer() (Bucketer, error) {
	b, ok := bucketers[g]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGrain, string(g))
	}
	return b, nil
}

// BucketStart returns the start of the bucket containing d. It panics on an
// invalid grain; callers validate grains at their boundary.
func (g Grain) BucketStart(d Date) Date {
	return Date{Time: g.mustBucketer().Start(d.Time)}
}

// NextBucket returns the start of the bucket following the one at start.
func (g Grain) NextBucket(start Date) Date {
	return Date{Time: g.mustBucketer().Next(start.Time)}
}

// Label renders the bucket starting at start ("2024-01", "2024-Q1", ...).
func (g Grain) Label(start Date) string {
	return g.mustBucketer().Label(start.Time)
}

func (g Grain) mustBucketer() Bucketer {
	b, err := g.Bucketer()
	if err != nil {
		panic(err)
	}
	return b
}
