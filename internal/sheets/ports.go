package sheets

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyTableName = errors.New("table name is required")

// Table is a rectangular block of cells written to one sheet tab. Rows
// shorter than Header are padded by the writer.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Validate checks that the table has a name and no row is wider than the
// header.
func (t Table) Validate() error {
	if t.Name == "" {
		return ErrEmptyTableName
	}
	for i, r := range t.Rows {
		if len(r) > len(t.Header) {
			return fmt.Errorf("table %s row %d has %d cells, header has %d", t.Name, i+1, len(r), len(t.Header))
		}
	}
	return nil
}

// TableWriter is the outbound port for exports. WriteTable replaces the
// contents of a named table and returns a reference to the written range.
type TableWriter interface {
	WriteTable(ctx context.Context, t Table) (ref string, err error)
}
