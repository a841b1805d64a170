package reactive

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/store"
)

// NoLimit disables the window's upper bound.
const NoLimit = -1

// Order sorts its parent and materializes the window
// [offset, offset+limit). Changes are published as positional patches.
type Order struct {
	*base
	parent Operator
	alias  string
	terms  []string
	total  []string
	limit  int
	offset int

	window []store.Row
	keyIdx []int

	lessSQL  string
	fetchSQL string

	// set when the parent is computed in memory
	memory []memKey
}

// NewOrder sorts parent by terms, ORDER BY items such as `price DESC`.
// limit may be NoLimit.
func NewOrder(ctx context.Context, parent Operator, alias string, terms []string, limit, offset int, args ...any) (*Order, error) {
	if offset < 0 {
		return nil, structuralf("order", nil, "negative offset %d", offset)
	}
	if limit < 0 {
		limit = NoLimit
	}
	args, err := extendArgs("order", args, parent)
	if err != nil {
		return nil, err
	}

	o := &Order{
		base:   newBase("order", parent.Store()),
		parent: parent,
		alias:  alias,
		terms:  terms,
		limit:  limit,
		offset: offset,
	}
	o.args = args
	o.unique = parent.UniqueColumns()
	o.cols = parent.Columns()
	names := store.ColumnNames(o.cols)
	for _, c := range o.unique {
		if i := slices.Index(names, c); i >= 0 {
			o.keyIdx = append(o.keyIdx, i)
		}
	}
	if len(o.keyIdx) != len(o.unique) {
		o.keyIdx = nil
	}

	// tie-breakers make the order total
	tiebreak := parent.UniqueColumns()
	if len(tiebreak) == 0 {
		tiebreak = store.ColumnNames(parent.Columns())
	}
	o.total = append([]string(nil), terms...)
	for _, c := range tiebreak {
		typ := ""
		if i := slices.Index(names, c); i >= 0 {
			typ = o.cols[i].Type
		}
		o.total = append(o.total, eqForm(quote(alias)+"."+quote(c), typ))
	}
	o.sql = o.windowSQL()

	if parent.Store() == nil {
		if err := o.setupMemory(); err != nil {
			return nil, err
		}
		o.window = o.sortInMemory()
		o.attach(parent, o.onParent)
		return o, nil
	}

	if err := o.describe(ctx); err != nil {
		return nil, err
	}
	cols := parent.Columns()
	n := len(args)
	o.lessSQL = fmt.Sprintf("SELECT __i FROM (%s UNION ALL %s) AS %s ORDER BY %s, __i LIMIT 1",
		taggedRow(cols, n+1, 0), taggedRow(cols, n+1+len(cols), 1), quote(alias), strings.Join(o.total, ", "))
	o.fetchSQL = fmt.Sprintf("SELECT * FROM (%s) AS %s ORDER BY %s LIMIT 1 OFFSET $%d",
		parent.SQL(), quote(alias), strings.Join(o.total, ", "), n+1)

	if err := o.reload(ctx); err != nil {
		return nil, err
	}
	o.attach(parent, o.onParent)
	return o, nil
}

// taggedRow renders `SELECT tag AS __i, $k::T AS "c", ...`.
func taggedRow(cols []store.Column, first, tag int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %d AS __i", tag)
	for i, c := range cols {
		fmt.Fprintf(&sb, ", %s AS %s", param(first+i, c.Type), quote(c.Name))
	}
	return sb.String()
}

func (o *Order) windowSQL() string {
	q := fmt.Sprintf("SELECT * FROM (%s) AS %s ORDER BY %s", o.parent.SQL(), quote(o.alias), strings.Join(o.total, ", "))
	if o.limit != NoLimit {
		q += fmt.Sprintf(" LIMIT %d", o.limit)
	}
	if o.offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", o.offset)
	}
	return q
}

// Rows returns the current window.
func (o *Order) Rows() []store.Row { return o.window }

func (o *Order) Limit() int  { return o.limit }
func (o *Order) Offset() int { return o.offset }

// SetLimit moves or resizes the window and publishes the difference.
func (o *Order) SetLimit(ctx context.Context, limit, offset int) error {
	if offset < 0 {
		return structuralf("order", nil, "negative offset %d", offset)
	}
	if limit < 0 {
		limit = NoLimit
	}
	prev := o.window
	o.limit, o.offset = limit, offset
	o.sql = o.windowSQL()
	if o.memory != nil {
		o.window = o.sortInMemory()
	} else if err := o.reload(ctx); err != nil {
		return err
	}
	return o.publish(ctx, prev)
}

func (o *Order) reload(ctx context.Context) error {
	rows, err := o.refetch(ctx, o.sql, o.args...)
	if err != nil {
		return err
	}
	o.window = rows
	return nil
}

func (o *Order) publish(ctx context.Context, prev []store.Row) error {
	for _, ev := range windowPatch(prev, o.window, o.sameRow) {
		if err := o.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (o *Order) onParent(ctx context.Context, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	prev := slices.Clone(o.window)
	if o.memory != nil {
		o.window = o.sortInMemory()
		return o.publish(ctx, prev)
	}

	var err error
	switch ev.Kind {
	case EventInsert:
		err = o.inserted(ctx, ev.New)
	case EventDelete:
		err = o.deleted(ctx, ev.Old)
	case EventUpdate:
		err = o.updated(ctx, ev.Old, ev.New)
	}
	if err != nil {
		return err
	}
	if o.limit != NoLimit && len(o.window) > o.limit {
		return consistencyf("order", "window holds %d rows, limit is %d", len(o.window), o.limit)
	}
	return o.publish(ctx, prev)
}

func (o *Order) full() bool {
	return o.limit != NoLimit && len(o.window) >= o.limit
}

// sortsFirst reports whether a sorts at or before b.
func (o *Order) sortsFirst(ctx context.Context, a, b store.Row) (bool, error) {
	rows, err := o.query(ctx, o.lessSQL, withRows(o.args, a, b)...)
	if err != nil {
		return false, err
	}
	if len(rows) != 1 {
		return false, consistencyf("order", "comparison returned %d rows", len(rows))
	}
	return rows[0][0].AsInt() == 0, nil
}

// search returns the index at which r belongs in the window.
func (o *Order) search(ctx context.Context, r store.Row) (int, error) {
	lo, hi := 0, len(o.window)
	for lo < hi {
		mid := (lo + hi) / 2
		first, err := o.sortsFirst(ctx, o.window[mid], r)
		if err != nil {
			return 0, err
		}
		if first {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// sameRow reports whether a and b are images of one row, by the parent's
// unique columns when it has them.
func (o *Order) sameRow(a, b store.Row) bool {
	if len(o.keyIdx) == 0 {
		return a.Equal(b)
	}
	for _, i := range o.keyIdx {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (o *Order) index(r store.Row) int {
	return slices.IndexFunc(o.window, func(w store.Row) bool { return w.Equal(r) })
}

// fetchAt appends the row at absolute position pos if it exists.
func (o *Order) fetchAt(ctx context.Context, pos int) error {
	rows, err := o.query(ctx, o.fetchSQL, append(slices.Clone(o.args), int64(pos))...)
	if err != nil {
		return err
	}
	o.window = append(o.window, rows...)
	return nil
}

// before reports whether r, absent from the window, sorts ahead of it.
func (o *Order) before(ctx context.Context, r store.Row) (bool, error) {
	if len(o.window) == 0 {
		return true, nil
	}
	return o.sortsFirst(ctx, r, o.window[0])
}

func (o *Order) insertAt(i int, r store.Row) {
	o.window = slices.Insert(o.window, i, r)
	if o.limit != NoLimit && len(o.window) > o.limit {
		o.window = o.window[:o.limit]
	}
}

func (o *Order) inserted(ctx context.Context, r store.Row) error {
	idx, err := o.search(ctx, r)
	if err != nil {
		return err
	}
	switch {
	case o.offset > 0 && idx == 0:
		// the row may land ahead of the window and shift it
		return o.reload(ctx)
	case o.full() && idx == len(o.window):
		return nil
	}
	o.insertAt(idx, r)
	return nil
}

func (o *Order) deleted(ctx context.Context, r store.Row) error {
	pos := o.index(r)
	if pos < 0 {
		if o.offset == 0 {
			return nil
		}
		ahead, err := o.before(ctx, r)
		if err != nil || !ahead {
			return err
		}
		return o.reload(ctx)
	}
	wasFull := o.full()
	o.window = slices.Delete(o.window, pos, pos+1)
	if wasFull {
		return o.fetchAt(ctx, o.offset+len(o.window))
	}
	return nil
}

func (o *Order) updated(ctx context.Context, old, r store.Row) error {
	pos := o.index(old)
	if pos < 0 && o.offset > 0 {
		ahead, err := o.before(ctx, old)
		if err != nil {
			return err
		}
		if ahead {
			return o.reload(ctx)
		}
	}
	wasFull := o.full()
	if pos >= 0 {
		o.window = slices.Delete(o.window, pos, pos+1)
	}
	idx, err := o.search(ctx, r)
	if err != nil {
		return err
	}
	if o.offset > 0 && idx == 0 {
		return o.reload(ctx)
	}
	switch {
	case pos >= 0 && wasFull && idx == len(o.window):
		// the row left through the bottom; the store already holds its new
		// image, so the next row in order may be the row itself
		return o.fetchAt(ctx, o.offset+len(o.window))
	case pos < 0 && wasFull && idx == len(o.window):
		return nil
	}
	o.insertAt(idx, r)
	return nil
}

// memKey is one in-memory sort term.
type memKey struct {
	col        int
	desc       bool
	nullsFirst bool
}

var memTermPattern = regexp.MustCompile(`(?i)^\s*(?:(?:"[^"]+"|\w+)\.)?("[^"]+"|\w+)\s*(asc|desc)?\s*(?:nulls\s+(first|last))?\s*$`)

// setupMemory resolves terms to column positions for in-process sorting.
func (o *Order) setupMemory() error {
	if _, ok := o.parent.(Materialized); !ok {
		return structuralf("order", nil, "parent %s has neither a store nor rows", o.parent.Kind())
	}
	names := store.ColumnNames(o.parent.Columns())
	for _, t := range o.terms {
		m := memTermPattern.FindStringSubmatch(t)
		if m == nil {
			return unsupportedf("in-memory ORDER BY term %q", t)
		}
		col := unquoteIdent(m[1])
		idx := slices.Index(names, col)
		if idx < 0 {
			return structuralf("order", nil, "unknown sort column %q", col)
		}
		desc := strings.EqualFold(m[2], "desc")
		k := memKey{col: idx, desc: desc, nullsFirst: desc}
		if m[3] != "" {
			k.nullsFirst = strings.EqualFold(m[3], "first")
		}
		o.memory = append(o.memory, k)
	}
	for i := range names {
		o.memory = append(o.memory, memKey{col: i})
	}
	o.log.Debug("sorting in memory", zap.Int("keys", len(o.memory)))
	return nil
}

func (o *Order) compare(a, b store.Row) int {
	for _, k := range o.memory {
		x, y := a[k.col], b[k.col]
		if x.IsNull() || y.IsNull() {
			if x.IsNull() && y.IsNull() {
				continue
			}
			if x.IsNull() == k.nullsFirst {
				return -1
			}
			return 1
		}
		c := x.Compare(y)
		if k.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func (o *Order) sortInMemory() []store.Row {
	rows := slices.Clone(o.parent.(Materialized).Rows())
	slices.SortStableFunc(rows, o.compare)
	if o.offset >= len(rows) {
		return nil
	}
	rows = rows[o.offset:]
	if o.limit != NoLimit && len(rows) > o.limit {
		rows = rows[:o.limit]
	}
	return rows
}
