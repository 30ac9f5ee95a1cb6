// Package memory is an in-process TableWriter used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	ports "garbanzo/internal/sheets"
)

type Store struct {
	mu     sync.Mutex
	tables map[string]ports.Table
	writes int
}

var _ ports.TableWriter = (*Store)(nil)

func New() *Store {
	return &Store{tables: make(map[string]ports.Table)}
}

// WriteTable stores a copy of t, replacing any table with the same name, and
// returns a synthetic reference.
func (s *Store) WriteTable(_ context.Context, t ports.Table) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	cp := ports.Table{Name: t.Name, Header: slices.Clone(t.Header), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		cp.Rows[i] = slices.Clone(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.Name] = cp
	s.writes++
	return fmt.Sprintf("mem:%s:%d", t.Name, len(t.Rows)), nil
}

// Table returns the last table written under name.
func (s *Store) Table(name string) (ports.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	return t, ok
}

// Names lists the stored tables, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Writes counts WriteTable calls that succeeded.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
