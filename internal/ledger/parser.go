package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"garbanzo/internal/core"
)

// Residuals at or below this are rounding noise.
var balanceTolerance = decimal.New(5, -3)

// Directives accepted for compatibility but not needed by the dashboard.
var skippedDirectives = map[string]bool{
	"close":     true,
	"commodity": true,
	"balance":   true,
	"pad":       true,
	"note":      true,
	"event":     true,
	"document":  true,
	"query":     true,
}

// Problem is one error found while loading a ledger.
type Problem struct {
	File string
	Line int
	Msg  string
}

func (p Problem) String() string {
	if p.Line == 0 {
		return fmt.Sprintf("%s: %s", p.File, p.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", p.File, p.Line, p.Msg)
}

// LoadError reports every problem found in a ledger. A ledger with any
// problem is rejected as a whole.
type LoadError struct {
	Problems []Problem
}

func (e *LoadError) Error() string {
	if len(e.Problems) == 1 {
		return "ledger: " + e.Problems[0].String()
	}
	return fmt.Sprintf("ledger: %d errors, first: %s", len(e.Problems), e.Problems[0])
}

type token struct {
	text   string
	quoted bool
}

type pendingPosting struct {
	line    int
	posting core.Posting
	missing bool
}

type pendingTxn struct {
	line     int
	txn      core.Transaction
	postings []pendingPosting
}

// parser accumulates the contents of one ledger across all of its files.
type parser struct {
	file        string
	problems    []Problem
	pushed      []string
	includes    []string
	out         Contents
	txn         *pendingTxn
	inDirective bool
}

func newParser() *parser {
	return &parser{
		out: Contents{
			Config:   DefaultConfig(),
			Options:  make(Options),
			Accounts: make(map[string]core.Date),
		},
	}
}

func (p *parser) fail(line int, format string, args ...any) {
	p.problems = append(p.problems, Problem{File: p.file, Line: line, Msg: fmt.Sprintf(format, args...)})
}

// parseFile consumes one file. Tags pushed in a file do not leak into the
// next one.
func (p *parser) parseFile(name string, r io.Reader) {
	p.file = name
	p.pushed = nil
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		p.line(n, sc.Text())
	}
	if err := sc.Err(); err != nil {
		p.fail(n, "read: %v", err)
	}
	p.flush()
	p.inDirective = false
}

// takeIncludes returns and clears the include paths collected so far.
func (p *parser) takeIncludes() []string {
	out := p.includes
	p.includes = nil
	return out
}

func (p *parser) line(n int, raw string) {
	line := strings.TrimRight(raw, " \t\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, ";") {
		return
	}
	if line[0] == ' ' || line[0] == '\t' {
		p.continuation(n, trimmed)
		return
	}
	p.flush()
	p.inDirective = false
	p.directive(n, line)
}

func (p *parser) directive(n int, line string) {
	toks, err := tokenize(line)
	if err != nil {
		p.fail(n, "%v", err)
		return
	}
	if len(toks) == 0 {
		return
	}
	head := toks[0]
	switch {
	case head.quoted:
		p.fail(n, "unexpected string %q", head.text)
	case head.text == "option":
		p.option(n, toks[1:])
	case head.text == "include":
		p.include(n, toks[1:])
	case head.text == "plugin":
		// plugins only run inside beancount itself
	case head.text == "pushtag":
		p.pushTag(n, toks[1:])
	case head.text == "poptag":
		p.popTag(n, toks[1:])
	case strings.HasPrefix(head.text, "*"), strings.HasPrefix(head.text, "#"):
		// org-mode section header
	case len(head.text) > 0 && head.text[0] >= '0' && head.text[0] <= '9':
		p.dated(n, toks)
	default:
		p.fail(n, "unexpected %q", head.text)
	}
}

func (p *parser) option(n int, args []token) {
	if len(args) != 2 || !args[0].quoted || !args[1].quoted {
		p.fail(n, "option expects two strings")
		return
	}
	name, value := args[0].text, args[1].text
	if name == "operating_currency" {
		if err := core.ValidateCurrency(value); err != nil {
			p.fail(n, "operating_currency: %v", err)
			return
		}
	}
	p.out.Options[name] = append(p.out.Options[name], value)
}

func (p *parser) include(n int, args []token) {
	if len(args) != 1 || !args[0].quoted {
		p.fail(n, "include expects one string")
		return
	}
	path := args[0].text
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(p.file), path)
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		p.fail(n, "include %q: %v", args[0].text, err)
		return
	}
	if len(matches) == 0 {
		p.fail(n, "include %q: no such file", args[0].text)
		return
	}
	p.includes = append(p.includes, matches...)
}

func (p *parser) pushTag(n int, args []token) {
	if len(args) != 1 || !strings.HasPrefix(args[0].text, "#") {
		p.fail(n, "pushtag expects one #tag")
		return
	}
	p.pushed = append(p.pushed, args[0].text[1:])
}

func (p *parser) popTag(n int, args []token) {
	if len(args) != 1 || !strings.HasPrefix(args[0].text, "#") {
		p.fail(n, "poptag expects one #tag")
		return
	}
	tag := args[0].text[1:]
	for i := len(p.pushed) - 1; i >= 0; i-- {
		if p.pushed[i] == tag {
			p.pushed = append(p.pushed[:i], p.pushed[i+1:]...)
			return
		}
	}
	p.fail(n, "poptag #%s was never pushed", tag)
}

func (p *parser) dated(n int, toks []token) {
	p.inDirective = true
	date, err := core.ParseDate(toks[0].text)
	if err != nil {
		p.fail(n, "%v", err)
		return
	}
	if len(toks) < 2 {
		p.fail(n, "missing directive after date")
		return
	}
	kw, rest := toks[1], toks[2:]
	if kw.quoted {
		// "2024-01-01 "Payee" ..." is not valid; a flag is required
		p.fail(n, "missing transaction flag")
		return
	}
	switch kw.text {
	case "*", "!", "P", "txn":
		flag := kw.text
		if flag == "txn" {
			flag = "*"
		}
		p.transaction(n, date, flag, rest)
	case "price":
		p.price(n, date, rest)
	case "custom":
		p.custom(n, date, rest)
	case "open":
		p.open(n, date, rest)
	default:
		if !skippedDirectives[kw.text] {
			p.fail(n, "unknown directive %q", kw.text)
		}
	}
}

func (p *parser) transaction(n int, date core.Date, flag string, args []token) {
	t := &pendingTxn{
		line: n,
		txn:  core.Transaction{Date: date, Flag: flag},
	}
	var strs []string
	tags := append([]string(nil), p.pushed...)
	for _, a := range args {
		switch {
		case a.quoted:
			strs = append(strs, a.text)
		case strings.HasPrefix(a.text, "#") && len(a.text) > 1:
			tags = append(tags, a.text[1:])
		case strings.HasPrefix(a.text, "^") && len(a.text) > 1:
			t.txn.Links = append(t.txn.Links, a.text[1:])
		default:
			p.fail(n, "unexpected %q in transaction header", a.text)
			return
		}
	}
	switch len(strs) {
	case 0:
	case 1:
		t.txn.Narration = strs[0]
	case 2:
		t.txn.Payee, t.txn.Narration = strs[0], strs[1]
	default:
		p.fail(n, "too many strings in transaction header")
		return
	}
	t.txn.Tags = dedupe(tags)
	p.txn = t
}

func (p *parser) price(n int, date core.Date, args []token) {
	if len(args) != 3 {
		p.fail(n, "price expects a commodity, a number and a currency")
		return
	}
	num, err := core.ParseNumber(args[1].text)
	if err != nil {
		p.fail(n, "price: %v %q", err, args[1].text)
		return
	}
	pr := core.Price{
		Date:     date,
		Currency: args[0].text,
		Amount:   core.Amount{Number: num, Currency: args[2].text},
	}
	if err := pr.Validate(); err != nil {
		p.fail(n, "price: %v", err)
		return
	}
	p.out.Prices = append(p.out.Prices, pr)
}

func (p *parser) custom(n int, _ core.Date, args []token) {
	if len(args) == 0 || !args[0].quoted {
		p.fail(n, "custom expects a type string")
		return
	}
	if args[0].text != CustomOptionType {
		return
	}
	if len(args) != 3 || !args[1].quoted {
		p.fail(n, "%s expects a key string and a value", CustomOptionType)
		return
	}
	if err := p.out.Config.apply(args[1].text, args[2].text); err != nil {
		p.fail(n, "%v", err)
	}
}

func (p *parser) open(n int, date core.Date, args []token) {
	if len(args) == 0 {
		p.fail(n, "open expects an account")
		return
	}
	account := args[0].text
	if err := core.ValidateAccount(account); err != nil {
		p.fail(n, "open: %v", err)
		return
	}
	if _, dup := p.out.Accounts[account]; dup {
		p.fail(n, "account %s opened twice", account)
		return
	}
	p.out.Accounts[account] = date
}

// continuation handles an indented line: metadata or a posting.
func (p *parser) continuation(n int, text string) {
	if p.txn == nil {
		if !p.inDirective {
			p.fail(n, "indented line outside of a directive")
		}
		return
	}
	if key, value, ok := splitMeta(text); ok {
		if k := len(p.txn.postings); k > 0 {
			pp := &p.txn.postings[k-1]
			if pp.posting.Meta == nil {
				pp.posting.Meta = make(map[string]string)
			}
			pp.posting.Meta[key] = value
		} else {
			if p.txn.txn.Meta == nil {
				p.txn.txn.Meta = make(map[string]string)
			}
			p.txn.txn.Meta[key] = value
		}
		return
	}
	pp, err := parsePosting(text)
	if err != nil {
		p.fail(n, "%v", err)
		return
	}
	pp.line = n
	p.txn.postings = append(p.txn.postings, pp)
}

// flush completes the pending transaction: it infers an elided amount, checks
// the balance and emits the postings.
func (p *parser) flush() {
	t := p.txn
	if t == nil {
		return
	}
	p.txn = nil

	residual := make(map[string]decimal.Decimal)
	missing := -1
	for i, pp := range t.postings {
		if pp.missing {
			if missing >= 0 {
				p.fail(pp.line, "more than one posting without an amount")
				return
			}
			missing = i
			continue
		}
		w := pp.posting.Weight()
		residual[w.Currency] = residual[w.Currency].Add(w.Number)
	}

	currencies := make([]string, 0, len(residual))
	for c, r := range residual {
		if !r.IsZero() {
			currencies = append(currencies, c)
		}
	}
	sort.Strings(currencies)

	if missing < 0 {
		for _, c := range currencies {
			if residual[c].Abs().GreaterThan(balanceTolerance) {
				p.fail(t.line, "transaction does not balance: %s", core.FormatAmount(residual[c], c))
				return
			}
		}
	} else if len(currencies) == 0 {
		p.fail(t.postings[missing].line, "cannot infer amount of %s", t.postings[missing].posting.Account)
		return
	}

	id := len(p.out.Transactions)
	t.txn.ID = id
	p.out.Transactions = append(p.out.Transactions, t.txn)
	for i, pp := range t.postings {
		base := pp.posting
		base.TxnID = id
		base.Date = t.txn.Date
		base.Tags = slices.Clone(t.txn.Tags)
		if i != missing {
			p.out.Postings = append(p.out.Postings, base)
			continue
		}
		for _, c := range currencies {
			inferred := base.Clone()
			inferred.Amount = residual[c].Neg()
			inferred.Currency = c
			p.out.Postings = append(p.out.Postings, inferred)
		}
	}
}

// parsePosting parses "[flag] Account [number CUR] [{cost}] [@ price | @@ total]".
func parsePosting(text string) (pendingPosting, error) {
	var pp pendingPosting
	if i := strings.Index(text, ";"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}

	var costText string
	var totalCost bool
	if i := strings.Index(text, "{"); i >= 0 {
		j := strings.LastIndex(text, "}")
		if j < i {
			return pp, errors.New("unbalanced cost braces")
		}
		costText = text[i : j+1]
		totalCost = strings.HasPrefix(costText, "{{")
		costText = strings.Trim(costText, "{}")
		text = text[:i] + " " + text[j+1:]
	}

	var priceText string
	var totalPrice bool
	if i := strings.Index(text, "@"); i >= 0 {
		priceText = text[i:]
		totalPrice = strings.HasPrefix(priceText, "@@")
		priceText = strings.TrimLeft(priceText, "@")
		text = text[:i]
	}

	fields := strings.Fields(text)
	if len(fields) > 0 && (fields[0] == "*" || fields[0] == "!") {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return pp, errors.New("posting without account")
	}
	account := fields[0]
	if err := core.ValidateAccount(account); err != nil {
		return pp, err
	}
	pp.posting.Account = account

	switch len(fields) {
	case 1:
		pp.missing = true
		if costText != "" || priceText != "" {
			return pp, fmt.Errorf("%s: cost or price on a posting without amount", account)
		}
		return pp, nil
	case 3:
		units, err := parseAmount(fields[1], fields[2])
		if err != nil {
			return pp, fmt.Errorf("%s: %w", account, err)
		}
		pp.posting.Amount = units.Number
		pp.posting.Currency = units.Currency
	default:
		return pp, fmt.Errorf("%s: expected \"number currency\"", account)
	}

	if strings.TrimSpace(costText) != "" {
		cost, err := parseCost(costText)
		if err != nil {
			return pp, fmt.Errorf("%s: %w", account, err)
		}
		if cost != nil {
			if totalCost {
				if pp.posting.Amount.IsZero() {
					return pp, fmt.Errorf("%s: total cost on zero units", account)
				}
				cost.Number = cost.Number.Div(pp.posting.Amount.Abs())
			}
			pp.posting.Cost = cost
		}
	}

	if priceText != "" {
		f := strings.Fields(priceText)
		if len(f) != 2 {
			return pp, fmt.Errorf("%s: price expects \"number currency\"", account)
		}
		price, err := parseAmount(f[0], f[1])
		if err != nil {
			return pp, fmt.Errorf("%s: price: %w", account, err)
		}
		if totalPrice {
			if pp.posting.Amount.IsZero() {
				return pp, fmt.Errorf("%s: total price on zero units", account)
			}
			price.Number = price.Number.Div(pp.posting.Amount.Abs())
		}
		// beancount keeps prices positive; the sign lives on the units
		price.Number = price.Number.Abs()
		pp.posting.Price = &price
	}
	return pp, nil
}

// parseCost reads the inside of a cost spec. Lot dates and labels are
// ignored; an empty spec yields nil.
func parseCost(text string) (*core.Amount, error) {
	var cost *core.Amount
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.HasPrefix(part, "\"") {
			continue
		}
		if _, err := core.ParseDate(part); err == nil {
			continue
		}
		if strings.Contains(part, "#") {
			return nil, errors.New("compound cost is not supported")
		}
		f := strings.Fields(part)
		if len(f) != 2 {
			return nil, fmt.Errorf("invalid cost %q", part)
		}
		a, err := parseAmount(f[0], f[1])
		if err != nil {
			return nil, fmt.Errorf("cost: %w", err)
		}
		if cost != nil {
			return nil, errors.New("cost has two amounts")
		}
		cost = &a
	}
	return cost, nil
}

func parseAmount(number, currency string) (core.Amount, error) {
	n, err := core.ParseNumber(number)
	if err != nil {
		return core.Amount{}, fmt.Errorf("%w: %q", err, number)
	}
	if err := core.ValidateCurrency(currency); err != nil {
		return core.Amount{}, err
	}
	return core.Amount{Number: n, Currency: currency}, nil
}

// splitMeta recognizes "key: value" lines. Keys start with a lowercase
// letter, which keeps them apart from account names.
func splitMeta(text string) (string, string, bool) {
	if text == "" || text[0] < 'a' || text[0] > 'z' {
		return "", "", false
	}
	key, value, ok := strings.Cut(text, ":")
	if !ok {
		return "", "", false
	}
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return "", "", false
		}
	}
	value = strings.TrimSpace(value)
	if toks, err := tokenize(value); err == nil && len(toks) == 1 {
		value = toks[0].text
	}
	return key, value, true
}

// tokenize splits a line on blanks, keeping double-quoted strings whole and
// dropping a trailing ; comment.
func tokenize(line string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == ';':
			return toks, nil
		case c == '"':
			var b strings.Builder
			j := i + 1
			closed := false
			for j < len(line) {
				if line[j] == '\\' && j+1 < len(line) {
					b.WriteByte(line[j+1])
					j += 2
					continue
				}
				if line[j] == '"' {
					closed = true
					break
				}
				b.WriteByte(line[j])
				j++
			}
			if !closed {
				return nil, errors.New("unterminated string")
			}
			toks = append(toks, token{text: b.String(), quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != '"' {
				j++
			}
			toks = append(toks, token{text: line[i:j]})
			i = j
		}
	}
	return toks, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
