// Command garbanzo-report prints an aggregate table of a beancount ledger as
// tab-separated values.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/cli"
	"garbanzo/internal/core"
	"garbanzo/internal/ledger"
	"garbanzo/internal/log"
)

type options struct {
	ledger   string
	groupBy  string
	grain    string
	currency string
	target   string
	depth    int
	from     string
	to       string
}

func main() {
	// .env has to be loaded before the flag defaults read the environment.
	cli.LoadEnvFile()

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentAggregate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, os.Stdout, opts); err != nil {
		logger.Error("Report failed", log.FieldError, err, log.FieldLedgerPath, opts.ledger)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("garbanzo-report", flag.ContinueOnError)
	fs.StringVar(&opts.ledger, "ledger", os.Getenv("LEDGER_PATH"), "path to the main beancount file")
	fs.StringVar(&opts.groupBy, "group-by", string(aggregate.ByAccount), "grouping: account, category, type or total")
	fs.StringVar(&opts.grain, "grain", string(core.Monthly), "time grain: daily, weekly, monthly, quarterly or yearly")
	fs.StringVar(&opts.currency, "currency", "", "comma separated currencies to keep (default all)")
	fs.StringVar(&opts.target, "target", "", "convert every amount into this currency")
	fs.IntVar(&opts.depth, "depth", 0, "account depth for category grouping")
	fs.StringVar(&opts.from, "from", "", "first date, YYYY-MM-DD")
	fs.StringVar(&opts.to, "to", "", "last date, YYYY-MM-DD")
	err := fs.Parse(args)
	return opts, err
}

func run(ctx context.Context, w io.Writer, opts options) error {
	if opts.ledger == "" {
		return fmt.Errorf("-ledger is required")
	}
	snap, err := ledger.Load(ctx, opts.ledger)
	if err != nil {
		return err
	}
	q, filter, err := buildQuery(snap, opts)
	if err != nil {
		return err
	}
	rows, err := aggregate.Aggregate(snap.Filter(filter).Postings(), q)
	if err != nil {
		return err
	}
	return writeTSV(w, rows)
}

func buildQuery(snap *ledger.Snapshot, opts options) (aggregate.Query, ledger.FilterOptions, error) {
	var (
		q      aggregate.Query
		filter ledger.FilterOptions
		err    error
	)
	if q.GroupBy, err = aggregate.ParseDimension(opts.groupBy); err != nil {
		return q, filter, err
	}
	if q.Grain, err = core.ParseGrain(opts.grain); err != nil {
		return q, filter, err
	}
	for _, c := range strings.Split(opts.currency, ",") {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			q.Currencies = append(q.Currencies, c)
		}
	}
	q.Depth = opts.depth
	if q.Depth == 0 && q.GroupBy == aggregate.ByCategory {
		q.Depth = snap.Config().DefaultAccountDepth
	}
	if opts.target != "" {
		q.Target = strings.ToUpper(opts.target)
		if prices := snap.Prices(); len(prices) > 0 {
			q.Prices = aggregate.NewPriceTable(prices)
		}
	}
	if opts.from != "" {
		if filter.MinDate, err = core.ParseDate(opts.from); err != nil {
			return q, filter, fmt.Errorf("-from: %w", err)
		}
	}
	if opts.to != "" {
		if filter.MaxDate, err = core.ParseDate(opts.to); err != nil {
			return q, filter, fmt.Errorf("-to: %w", err)
		}
	}
	return q, filter, q.Validate()
}

func writeTSV(w io.Writer, rows []aggregate.Row) error {
	if _, err := fmt.Fprintln(w, "period\tkey\tcurrency\tamount\tcount"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.Label(), r.Key, r.Currency, r.Amount.String(), r.Count); err != nil {
			return err
		}
	}
	return nil
}
