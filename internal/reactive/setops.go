package reactive

import (
	"context"
	"fmt"
	"slices"

	"github.com/zoravur/pglive/internal/store"
)

// unordered strips positions from events of an ordered parent. A Move is
// an Update of the moved row, dropped when its content is unchanged.
func unordered(ev Event) (Event, bool) {
	switch ev.Kind {
	case EventInsert:
		return Insert(ev.New), true
	case EventDelete:
		return Delete(ev.Old), true
	case EventUpdate, EventMove:
		up := Update(ev.Old, ev.New)
		return up, !up.Noop()
	}
	return Event{}, false
}

func newSetOp(ctx context.Context, kind, op string, left, right Operator) (*base, error) {
	st, err := needStore(kind, left, right)
	if err != nil {
		return nil, err
	}
	args, err := extendArgs(kind, nil, left, right)
	if err != nil {
		return nil, err
	}
	if len(left.Columns()) != len(right.Columns()) {
		return nil, structuralf(kind, nil, "sides have %d and %d columns", len(left.Columns()), len(right.Columns()))
	}
	b := newBase(kind, st)
	b.args = args
	b.sql = fmt.Sprintf("SELECT * FROM (%s) AS __l %s SELECT * FROM (%s) AS __r", left.SQL(), op, right.SQL())
	if err := b.describe(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// UnionAll is the bag union of two operators.
type UnionAll struct {
	*base
}

func NewUnionAll(ctx context.Context, left, right Operator) (*UnionAll, error) {
	b, err := newSetOp(ctx, "union_all", "UNION ALL", left, right)
	if err != nil {
		return nil, err
	}
	u := &UnionAll{base: b}
	u.attach(left, u.onParent)
	u.attach(right, u.onParent)
	return u, nil
}

func (u *UnionAll) onParent(ctx context.Context, ev Event) error {
	if ev, ok := unordered(ev); ok {
		return u.emit(ctx, ev)
	}
	return nil
}

// Union is the set union of two operators. A row is emitted only when it
// becomes visible or invisible in the union as a whole.
type Union struct {
	*base
	left, right Operator
	// per side: counts of a row in (this side, other side)
	countOne [2]string
	countTwo [2]string
}

func NewUnion(ctx context.Context, left, right Operator) (*Union, error) {
	b, err := newSetOp(ctx, "union", "UNION", left, right)
	if err != nil {
		return nil, err
	}
	u := &Union{base: b, left: left, right: right}

	cols := left.Columns()
	n := len(u.args)
	sides := [2]Operator{left, right}
	for i := range sides {
		this, other := sides[i].SQL(), sides[1-i].SQL()
		u.countOne[i] = fmt.Sprintf("SELECT %s, %s",
			countMatchSQL(this, cols, n+1), countMatchSQL(other, cols, n+1))
		u.countTwo[i] = fmt.Sprintf("SELECT %s, %s, %s, %s",
			countMatchSQL(this, cols, n+1), countMatchSQL(other, cols, n+1),
			countMatchSQL(this, cols, n+1+len(cols)), countMatchSQL(other, cols, n+1+len(cols)))
	}

	u.attach(left, func(ctx context.Context, ev Event) error { return u.onSide(ctx, 0, ev) })
	u.attach(right, func(ctx context.Context, ev Event) error { return u.onSide(ctx, 1, ev) })
	return u, nil
}

// onSide handles an event of side i. Counts are read after the change has
// been applied to the store.
func (u *Union) onSide(ctx context.Context, i int, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	switch ev.Kind {
	case EventInsert:
		c, err := u.count(ctx, u.countOne[i], withRows(u.args, ev.New)...)
		if err != nil {
			return err
		}
		if c[0] == 1 && c[1] == 0 {
			return u.emit(ctx, ev)
		}
	case EventDelete:
		c, err := u.count(ctx, u.countOne[i], withRows(u.args, ev.Old)...)
		if err != nil {
			return err
		}
		if c[0] == 0 && c[1] == 0 {
			return u.emit(ctx, ev)
		}
	case EventUpdate:
		c, err := u.count(ctx, u.countTwo[i], withRows(u.args, ev.Old, ev.New)...)
		if err != nil {
			return err
		}
		oldStays := c[0] > 0 || c[1] > 0
		newWasThere := c[2] > 1 || c[3] > 0
		switch {
		case !oldStays && !newWasThere:
			return u.emit(ctx, ev)
		case !oldStays:
			return u.emit(ctx, Delete(ev.Old))
		case !newWasThere:
			return u.emit(ctx, Insert(ev.New))
		}
	}
	return nil
}

// Intersect is the set intersection of two operators.
type Intersect struct {
	*base
	counts  string
	tracked map[string]store.Row
	order   []string
}

func NewIntersect(ctx context.Context, left, right Operator) (*Intersect, error) {
	b, err := newSetOp(ctx, "intersect", "INTERSECT", left, right)
	if err != nil {
		return nil, err
	}
	x := &Intersect{base: b, tracked: map[string]store.Row{}}
	cols := left.Columns()
	n := len(x.args)
	x.counts = fmt.Sprintf("SELECT %s, %s",
		countMatchSQL(left.SQL(), cols, n+1), countMatchSQL(right.SQL(), cols, n+1))

	rows, err := x.refetch(ctx, x.sql, x.args...)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		x.track(r)
	}
	x.attach(left, x.onParent)
	x.attach(right, x.onParent)
	return x, nil
}

func (x *Intersect) Rows() []store.Row {
	out := make([]store.Row, len(x.order))
	for i, k := range x.order {
		out[i] = x.tracked[k]
	}
	return out
}

func (x *Intersect) track(r store.Row) {
	k := r.Key()
	if _, ok := x.tracked[k]; ok {
		return
	}
	x.tracked[k] = r
	x.order = append(x.order, k)
}

func (x *Intersect) untrack(r store.Row) {
	k := r.Key()
	delete(x.tracked, k)
	if i := slices.Index(x.order, k); i >= 0 {
		x.order = slices.Delete(x.order, i, i+1)
	}
}

func (x *Intersect) inBoth(ctx context.Context, r store.Row) (bool, error) {
	c, err := x.count(ctx, x.counts, withRows(x.args, r)...)
	if err != nil {
		return false, err
	}
	return c[0] > 0 && c[1] > 0, nil
}

func (x *Intersect) onParent(ctx context.Context, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	if ev.Old != nil {
		if err := x.removed(ctx, ev.Old); err != nil {
			return err
		}
	}
	if ev.New != nil {
		return x.added(ctx, ev.New)
	}
	return nil
}

func (x *Intersect) added(ctx context.Context, r store.Row) error {
	if _, ok := x.tracked[r.Key()]; ok {
		return nil
	}
	both, err := x.inBoth(ctx, r)
	if err != nil || !both {
		return err
	}
	x.track(r)
	return x.emit(ctx, Insert(r))
}

func (x *Intersect) removed(ctx context.Context, r store.Row) error {
	if _, ok := x.tracked[r.Key()]; !ok {
		return nil
	}
	both, err := x.inBoth(ctx, r)
	if err != nil || both {
		return err
	}
	x.untrack(r)
	return x.emit(ctx, Delete(r))
}
