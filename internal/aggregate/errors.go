package aggregate

import (
	"fmt"
	"strings"

	"garbanzo/internal/core"
)

// InvalidGroupingError is returned for a grouping dimension the engine does
// not know.
type InvalidGroupingError struct {
	Dimension string
}

func (e *InvalidGroupingError) Error() string {
	return fmt.Sprintf("invalid grouping %q: expected one of %s", e.Dimension, strings.Join(dimensionNames(), ", "))
}

// CurrencyMismatchError is returned when amounts in different currencies
// would have to be added without a conversion rate.
type CurrencyMismatchError struct {
	Currencies []string
	// Date is set when a conversion was attempted and no rate existed on or
	// before it.
	Date core.Date
}

func (e *CurrencyMismatchError) Error() string {
	if len(e.Currencies) == 2 && !e.Date.IsZero() {
		return fmt.Sprintf("currency mismatch: no %s/%s rate on or before %s", e.Currencies[0], e.Currencies[1], e.Date)
	}
	return fmt.Sprintf("currency mismatch: cannot add %s without conversion", strings.Join(e.Currencies, ", "))
}
