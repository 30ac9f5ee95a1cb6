package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/core"
	"garbanzo/internal/services"
)

// paramError is a malformed query parameter. It maps to 400.
type paramError struct {
	Param string
	Err   error
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Param, e.Err)
}

func (e *paramError) Unwrap() error { return e.Err }

func get(q url.Values, name string) string {
	return strings.TrimSpace(q.Get(name))
}

// parseRange reads from/to as YYYY-MM-DD dates. Missing bounds are open.
func parseRange(q url.Values) (services.Range, error) {
	var r services.Range
	for _, p := range []struct {
		name string
		dst  *core.Date
	}{{"from", &r.From}, {"to", &r.To}} {
		v := get(q, p.name)
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return r, &paramError{Param: p.name, Err: err}
		}
		*p.dst = d
	}
	return r, r.Validate()
}

// parseGrain returns "" when unset so the service default applies.
func parseGrain(q url.Values) (core.Grain, error) {
	v := get(q, "grain")
	if v == "" {
		return "", nil
	}
	return core.ParseGrain(v)
}

// parseCount reads a non-negative integer; unset is 0.
func parseCount(q url.Values, name string) (int, error) {
	v := get(q, name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &paramError{Param: name, Err: err}
	}
	if n < 0 {
		return 0, &paramError{Param: name, Err: fmt.Errorf("must not be negative")}
	}
	return n, nil
}

func parseBool(q url.Values, name string, def bool) (bool, error) {
	v := get(q, name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &paramError{Param: name, Err: err}
	}
	return b, nil
}

// parseCurrencies accepts repeated or comma separated currency params.
func parseCurrencies(q url.Values) []string {
	var out []string
	for _, v := range q["currency"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func parseCurrency(q url.Values) string {
	return strings.ToUpper(get(q, "currency"))
}

func parseAggregateRequest(q url.Values) (services.AggregateRequest, error) {
	req := services.AggregateRequest{
		Currencies: parseCurrencies(q),
		Account:    get(q, "account"),
		Target:     strings.ToUpper(get(q, "target")),
	}
	var err error
	if v := get(q, "group_by"); v != "" {
		if req.GroupBy, err = aggregate.ParseDimension(v); err != nil {
			return req, err
		}
	}
	if req.Grain, err = parseGrain(q); err != nil {
		return req, err
	}
	if req.Depth, err = parseCount(q, "depth"); err != nil {
		return req, err
	}
	req.Range, err = parseRange(q)
	return req, err
}

func parseFlowRequest(q url.Values) (services.FlowRequest, error) {
	req := services.FlowRequest{
		Account:  get(q, "account"),
		Currency: parseCurrency(q),
	}
	var err error
	if req.Grain, err = parseGrain(q); err != nil {
		return req, err
	}
	if req.Depth, err = parseCount(q, "depth"); err != nil {
		return req, err
	}
	if req.AdjustSign, err = parseBool(q, "adjust_sign", true); err != nil {
		return req, err
	}
	if req.Convert, err = parseBool(q, "convert", false); err != nil {
		return req, err
	}
	req.Range, err = parseRange(q)
	return req, err
}

func parseIncomeExpenseRequest(q url.Values) (services.IncomeExpenseRequest, error) {
	req := services.IncomeExpenseRequest{Currency: parseCurrency(q)}
	var err error
	if req.Grain, err = parseGrain(q); err != nil {
		return req, err
	}
	if req.Convert, err = parseBool(q, "convert", false); err != nil {
		return req, err
	}
	req.Range, err = parseRange(q)
	return req, err
}

func parseStackRequest(q url.Values) (services.StackRequest, error) {
	req := services.StackRequest{
		Account:  get(q, "account"),
		Currency: parseCurrency(q),
	}
	var err error
	if req.Grain, err = parseGrain(q); err != nil {
		return req, err
	}
	if req.Depth, err = parseCount(q, "depth"); err != nil {
		return req, err
	}
	if req.Segments, err = parseCount(q, "segments"); err != nil {
		return req, err
	}
	if req.Convert, err = parseBool(q, "convert", false); err != nil {
		return req, err
	}
	req.Range, err = parseRange(q)
	return req, err
}
