package reactive

import (
	"context"
	"fmt"

	"github.com/zoravur/pglive/internal/store"
)

// Select maps every row of its parent through a target list.
type Select struct {
	*base
	parent  Operator
	alias   string
	targets string

	mapOne string
	mapTwo string
}

// NewSelect projects parent through targets, a select-list such as
// `id, upper(name) AS name`.
func NewSelect(ctx context.Context, parent Operator, alias, targets string, args ...any) (*Select, error) {
	st, err := needStore("select", parent)
	if err != nil {
		return nil, err
	}
	args, err = extendArgs("select", args, parent)
	if err != nil {
		return nil, err
	}

	s := &Select{base: newBase("select", st), parent: parent, alias: alias, targets: targets}
	s.args = args
	s.sql = fmt.Sprintf("SELECT %s FROM (%s) AS %s", targets, parent.SQL(), quote(alias))
	if err := s.describe(ctx); err != nil {
		return nil, err
	}

	cols := parent.Columns()
	n := len(args)
	s.mapOne = fmt.Sprintf("SELECT %s FROM %s AS %s", targets, rowSource(cols, n+1), quote(alias))
	s.mapTwo = fmt.Sprintf("SELECT 0 AS __i, %s FROM %s AS %s UNION ALL SELECT 1, %s FROM %s AS %s ORDER BY __i",
		targets, rowSource(cols, n+1), quote(alias),
		targets, rowSource(cols, n+1+len(cols)), quote(alias))

	s.attach(parent, s.onParent)
	return s, nil
}

func (s *Select) Targets() string { return s.targets }

func (s *Select) project(ctx context.Context, r store.Row) (store.Row, error) {
	rows, err := s.query(ctx, s.mapOne, withRows(s.args, r)...)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, structuralf("select", nil, "projection produced %d rows for one input row", len(rows))
	}
	return rows[0], nil
}

func (s *Select) onParent(ctx context.Context, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	switch ev.Kind {
	case EventInsert:
		r, err := s.project(ctx, ev.New)
		if err != nil {
			return err
		}
		return s.emit(ctx, Insert(r))
	case EventDelete:
		r, err := s.project(ctx, ev.Old)
		if err != nil {
			return err
		}
		return s.emit(ctx, Delete(r))
	case EventUpdate:
		rows, err := s.query(ctx, s.mapTwo, withRows(s.args, ev.Old, ev.New)...)
		if err != nil {
			return err
		}
		if len(rows) != 2 {
			return structuralf("select", nil, "projection produced %d rows for two input rows", len(rows))
		}
		before, after := store.Row(rows[0][1:]), store.Row(rows[1][1:])
		if before.Equal(after) {
			return nil
		}
		return s.emit(ctx, Update(before, after))
	}
	return nil
}
