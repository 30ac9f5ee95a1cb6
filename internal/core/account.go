package core

import (
	"fmt"
	"strings"
	"unicode"
)

const AccountSeparator = ":"

// AccountTypes holds the configured names of the five root account types.
// Ledgers may rename them with the name_* options.
type AccountTypes struct {
	Assets      string
	Liabilities string
	Income      string
	Expenses    string
	Equity      string
}

// DefaultAccountTypes returns beancount's default root names.
func DefaultAccountTypes() AccountTypes {
	return AccountTypes{
		Assets:      "Assets",
		Liabilities: "Liabilities",
		Income:      "Income",
		Expenses:    "Expenses",
		Equity:      "Equity",
	}
}

// Roots lists the root names in canonical order.
func (t AccountTypes) Roots() []string {
	return []string{t.Assets, t.Liabilities, t.Income, t.Expenses, t.Equity}
}

// IsRoot reports whether name is one of the configured roots.
func (t AccountTypes) IsRoot(name string) bool {
	for _, r := range t.Roots() {
		if r == name {
			return true
		}
	}
	return false
}

// IsCreditNormal reports whether flows under the account's root are naturally
// negative (income and liabilities) and are flipped for display.
func (t AccountTypes) IsCreditNormal(account string) bool {
	root := AccountRoot(account)
	return root == t.Income || root == t.Liabilities
}

func SplitAccount(account string) []string {
	return strings.Split(account, AccountSeparator)
}

// AccountAtDepth truncates an account to its first depth components.
// A non-positive depth leaves the account unchanged.
func AccountAtDepth(account string, depth int) string {
	if depth <= 0 {
		return account
	}
	parts := SplitAccount(account)
	if len(parts) <= depth {
		return account
	}
	return strings.Join(parts[:depth], AccountSeparator)
}

// AccountRoot returns the first component of an account.
func AccountRoot(account string) string {
	root, _, _ := strings.Cut(account, AccountSeparator)
	return root
}

// AccountHasPrefix reports whether account is prefix itself or one of its
// descendants. Matching is per component: "Expenses:Food" does not match
// "Expenses:FoodCourt". An empty prefix matches everything.
func AccountHasPrefix(account, prefix string) bool {
	if prefix == "" || account == prefix {
		return true
	}
	return strings.HasPrefix(account, prefix+AccountSeparator)
}

// ValidateAccount checks that an account has a root and non-empty components,
// each starting with an uppercase letter or digit.
func ValidateAccount(account string) error {
	if strings.TrimSpace(account) == "" {
		return ErrEmptyAccount
	}
	parts := SplitAccount(account)
	if len(parts) < 2 {
		return fmt.Errorf("%w: %q has no sub-account", ErrInvalidAccount, account)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
		}
		first := []rune(p)[0]
		if !unicode.IsUpper(first) && !unicode.IsDigit(first) {
			return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
		}
		for _, r := range p {
			if unicode.IsSpace(r) {
				return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
			}
		}
	}
	return nil
}
