package reactive

import (
	"context"
	"fmt"

	"github.com/zoravur/pglive/internal/store"
)

// Where filters its parent by a predicate. Rows are re-tested one at a
// time by substituting them for the parent as a one-row table.
type Where struct {
	*base
	parent Operator
	alias  string
	pred   string

	testOne string
	testTwo string
}

// NewWhere filters parent by pred. alias names the parent inside pred;
// args extend the parent's arguments.
func NewWhere(ctx context.Context, parent Operator, alias, pred string, args ...any) (*Where, error) {
	st, err := needStore("where", parent)
	if err != nil {
		return nil, err
	}
	args, err = extendArgs("where", args, parent)
	if err != nil {
		return nil, err
	}

	w := &Where{base: newBase("where", st), parent: parent, alias: alias, pred: pred}
	w.args = args
	w.unique = parent.UniqueColumns()
	w.sql = fmt.Sprintf("SELECT * FROM (%s) AS %s WHERE %s", parent.SQL(), quote(alias), pred)
	if err := w.describe(ctx); err != nil {
		return nil, err
	}

	cols := parent.Columns()
	n := len(args)
	one := fmt.Sprintf("(SELECT count(*) FROM %s AS %s WHERE %s)", rowSource(cols, n+1), quote(alias), pred)
	two := fmt.Sprintf("(SELECT count(*) FROM %s AS %s WHERE %s)", rowSource(cols, n+1+len(cols)), quote(alias), pred)
	w.testOne = "SELECT " + one
	w.testTwo = "SELECT " + one + ", " + two

	w.attach(parent, w.onParent)
	return w, nil
}

func (w *Where) Predicate() string { return w.pred }

func (w *Where) test(ctx context.Context, r store.Row) (bool, error) {
	n, err := w.count(ctx, w.testOne, withRows(w.args, r)...)
	if err != nil {
		return false, err
	}
	return n[0] > 0, nil
}

func (w *Where) onParent(ctx context.Context, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	switch ev.Kind {
	case EventInsert:
		ok, err := w.test(ctx, ev.New)
		if err != nil || !ok {
			return err
		}
		return w.emit(ctx, Insert(ev.New))
	case EventDelete:
		ok, err := w.test(ctx, ev.Old)
		if err != nil || !ok {
			return err
		}
		return w.emit(ctx, Delete(ev.Old))
	case EventUpdate:
		n, err := w.count(ctx, w.testTwo, withRows(w.args, ev.Old, ev.New)...)
		if err != nil {
			return err
		}
		before, after := n[0] > 0, n[1] > 0
		switch {
		case before && after:
			return w.emit(ctx, Update(ev.Old, ev.New))
		case before:
			return w.emit(ctx, Delete(ev.Old))
		case after:
			return w.emit(ctx, Insert(ev.New))
		}
	}
	return nil
}
