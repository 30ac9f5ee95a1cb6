package ledger

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"garbanzo/internal/core"
)

// CustomOptionType is the custom directive type carrying dashboard settings:
//
//	2024-01-01 custom "garbanzo-option" "default-account-depth" "2"
const CustomOptionType = "garbanzo-option"

const defaultAccountDepth = 3

// Config holds dashboard settings embedded in the ledger itself.
type Config struct {
	DefaultStartDate        core.Date
	DefaultAccountDepth     int
	IncomeDeductionAccounts []string
}

// DefaultConfig returns the settings used when a ledger sets none.
func DefaultConfig() Config {
	return Config{DefaultAccountDepth: defaultAccountDepth}
}

func (c Config) clone() Config {
	c.IncomeDeductionAccounts = slices.Clone(c.IncomeDeductionAccounts)
	return c
}

// apply sets one garbanzo-option. Keys use dashes or underscores
// interchangeably; unknown keys are rejected.
func (c *Config) apply(key, value string) error {
	name := strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
	value = strings.TrimSpace(value)
	switch name {
	case "default_start_date":
		d, err := parseLooseDate(value)
		if err != nil {
			return fmt.Errorf("default-start-date: %w", err)
		}
		c.DefaultStartDate = d
	case "default_account_depth":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("default-account-depth: %q must be a non-negative integer", value)
		}
		c.DefaultAccountDepth = n
	case "income_deduction_account":
		if err := core.ValidateAccount(value); err != nil {
			return fmt.Errorf("income-deduction-account: %w", err)
		}
		c.IncomeDeductionAccounts = append(c.IncomeDeductionAccounts, value)
	default:
		return fmt.Errorf("unknown garbanzo option %q", key)
	}
	return nil
}

// parseLooseDate accepts a full date, a year-month or a bare year; partial
// dates resolve to the first day of the period.
func parseLooseDate(s string) (core.Date, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return core.DateOf(t), nil
		}
	}
	return core.Date{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
}
