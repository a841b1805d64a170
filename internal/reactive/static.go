package reactive

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zoravur/pglive/internal/store"
)

// Static is a fixed row list. Built directly it lives in memory only;
// compiled from a constant query it keeps the store so store-backed
// operators can be stacked on it.
type Static struct {
	*base
	rows []store.Row
}

// NewStatic builds an in-memory operator over rows shaped like cols.
func NewStatic(cols []store.Column, rows []store.Row) (*Static, error) {
	for _, r := range rows {
		if len(r) != len(cols) {
			return nil, structuralf("static", nil, "row %s has %d values, want %d", r, len(r), len(cols))
		}
	}
	s := &Static{base: newBase("static", nil), rows: slices.Clone(rows)}
	s.cols = cols
	s.sql = valuesSQL(cols, rows)
	s.live()
	return s, nil
}

// newConstant evaluates a FROM-less query once.
func newConstant(ctx context.Context, st *store.Store, sql string, args []any) (*Static, error) {
	s := &Static{base: newBase("static", st)}
	s.sql = sql
	s.args = args
	res, err := st.Query(ctx, sql, args...)
	if err != nil {
		return nil, execErr("static", err)
	}
	s.cols = res.Columns
	s.rows = res.Rows
	s.live()
	return s, nil
}

// valuesSQL renders rows as a VALUES list, or an empty typed row set.
func valuesSQL(cols []store.Column, rows []store.Row) string {
	names := quotedList(store.ColumnNames(cols))
	if len(rows) == 0 {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = "NULL"
			if c.Type != "" {
				parts[i] += "::" + c.Type
			}
			parts[i] += " AS " + quote(c.Name)
		}
		return fmt.Sprintf("SELECT %s WHERE FALSE", strings.Join(parts, ", "))
	}
	tuples := make([]string, len(rows))
	for i, r := range rows {
		vals := make([]string, len(r))
		for j, v := range r {
			vals[j] = v.Literal()
		}
		tuples[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	return fmt.Sprintf("SELECT * FROM (VALUES %s) AS __s(%s)", strings.Join(tuples, ", "), names)
}

func (s *Static) Rows() []store.Row { return s.rows }

// Set replaces the rows and emits the multiset difference.
func (s *Static) Set(ctx context.Context, rows []store.Row) error {
	if s.st != nil {
		return structuralf("static", nil, "rows of a constant query cannot be replaced")
	}
	for _, r := range rows {
		if len(r) != len(s.cols) {
			return structuralf("static", nil, "row %s has %d values, want %d", r, len(r), len(s.cols))
		}
	}
	prev := s.rows
	s.rows = slices.Clone(rows)
	s.sql = valuesSQL(s.cols, s.rows)
	for _, ev := range bagDiff(prev, s.rows) {
		if err := s.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
