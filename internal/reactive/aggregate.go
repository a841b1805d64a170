package reactive

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/store"
)

type aggFunc uint8

const (
	aggConst aggFunc = iota
	aggCount
	aggSum
	aggAvg
	aggMin
	aggMax
)

var aggNames = map[string]aggFunc{
	"count": aggCount,
	"sum":   aggSum,
	"avg":   aggAvg,
	"min":   aggMin,
	"max":   aggMax,
}

func (f aggFunc) String() string {
	for name, fn := range aggNames {
		if fn == f {
			return name
		}
	}
	return "const"
}

var aggPattern = regexp.MustCompile(`(?is)^\s*(count|sum|avg|min|max)\s*\((.*)\)\s*(?:as\s+("(?:[^"]|"")+"|[a-z_][a-z0-9_$]*))?\s*$`)

var aliasPattern = regexp.MustCompile(`(?is)^(.*?)\s+as\s+("(?:[^"]|"")+"|[a-z_][a-z0-9_$]*)\s*$`)

// aggExpr is one output column of an Aggregate.
type aggExpr struct {
	text string // expression without alias
	name string // output alias, empty for the store's default
	fn   aggFunc
	arg  string
	star bool
}

// parseAggExpr matches FUNC(arg|*) [AS name]. Anything else, including
// sum/avg/min/max(*), is a constant column.
func parseAggExpr(s string) aggExpr {
	m := aggPattern.FindStringSubmatch(s)
	if m == nil {
		e := aggExpr{text: strings.TrimSpace(s)}
		if a := aliasPattern.FindStringSubmatch(s); a != nil {
			e.text, e.name = strings.TrimSpace(a[1]), unquoteIdent(a[2])
		}
		return e
	}
	fn := aggNames[strings.ToLower(m[1])]
	arg := strings.TrimSpace(m[2])
	e := aggExpr{
		text: strings.TrimSpace(s),
		name: unquoteIdent(m[3]),
		fn:   fn,
		arg:  arg,
		star: arg == "*",
	}
	if m[3] != "" {
		e.text = fmt.Sprintf("%s(%s)", strings.ToLower(m[1]), arg)
	}
	lower := strings.ToLower(arg)
	switch {
	case !balanced(arg), arg == "":
		e.fn = aggConst
	case e.star && fn != aggCount:
		e.fn = aggConst
	case strings.HasPrefix(lower, "distinct ") || strings.HasPrefix(lower, "all "):
		e.fn = aggConst
	}
	if e.fn == aggConst {
		e.arg, e.star = "", false
	}
	return e
}

func balanced(s string) bool {
	depth := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !inQuote
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return strings.ToLower(s)
}

// output renders the column as it appears in the operator's SQL.
func (e aggExpr) output() string {
	var expr string
	switch e.fn {
	case aggCount, aggSum, aggAvg:
		expr = fmt.Sprintf("COALESCE(%s, 0)", e.call())
	case aggMin, aggMax:
		expr = e.call()
	default:
		expr = e.text
	}
	name := e.name
	if name == "" {
		name = e.defaultName()
	}
	return expr + " AS " + quote(name)
}

func (e aggExpr) call() string {
	if e.star {
		return e.fn.String() + "(*)"
	}
	return fmt.Sprintf("%s(%s)", e.fn, e.arg)
}

func (e aggExpr) defaultName() string {
	if e.fn == aggConst {
		return "?column?"
	}
	return e.fn.String()
}

// state lists the columns a recompute needs for this slot.
func (e aggExpr) state() []string {
	switch e.fn {
	case aggAvg:
		return []string{fmt.Sprintf("sum(%s)", e.arg), fmt.Sprintf("count(%s)", e.arg)}
	case aggConst:
		return []string{"(" + e.text + ")"}
	}
	return []string{e.call()}
}

// needsArg reports whether the slot reads a per-row argument value.
func (e aggExpr) needsArg() bool {
	return e.fn != aggConst && !e.star
}

// aggSlot is the running state of one aggregate column.
type aggSlot struct {
	aggExpr
	typ     string // output type
	argIdx  int    // index into evaluated argument values, -1 if none
	count   int64
	sum     decimal.Decimal
	extreme store.Value
	stale   bool
	value   store.Value // constants
}

// Aggregate maintains count/sum/avg/min/max over its parent. Without GROUP
// BY it holds a single row updated incrementally; with GROUP BY every event
// re-queries the groups and emits per-group differences.
type Aggregate struct {
	*base
	parent  Operator
	alias   string
	groupBy []string

	slots   []*aggSlot
	nargs   int
	evalOne string
	evalTwo string

	row    store.Row
	groups []store.Row
}

// NewAggregate builds an aggregate over parent. exprs are select-list
// entries such as `count(*)` or `max(price) AS top`; groupBy holds the
// grouping expressions, which become the leading output columns.
func NewAggregate(ctx context.Context, parent Operator, alias string, exprs, groupBy []string, args ...any) (*Aggregate, error) {
	st, err := needStore("aggregate", parent)
	if err != nil {
		return nil, err
	}
	args, err = extendArgs("aggregate", args, parent)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, structuralf("aggregate", nil, "no aggregate expressions")
	}

	a := &Aggregate{base: newBase("aggregate", st), parent: parent, alias: alias, groupBy: groupBy}
	a.args = args

	outputs := append([]string(nil), groupBy...)
	var argExprs []string
	for _, text := range exprs {
		slot := &aggSlot{aggExpr: parseAggExpr(text), argIdx: -1}
		if slot.needsArg() {
			slot.argIdx = len(argExprs)
			argExprs = append(argExprs, slot.arg)
		}
		a.slots = append(a.slots, slot)
		outputs = append(outputs, slot.output())
	}
	a.nargs = len(argExprs)
	if !slices.ContainsFunc(a.slots, func(s *aggSlot) bool { return s.fn != aggConst }) {
		return nil, structuralf("aggregate", nil, "no expression matches FUNC(arg)")
	}

	from := fmt.Sprintf("(%s) AS %s", parent.SQL(), quote(alias))
	a.sql = fmt.Sprintf("SELECT %s FROM %s", strings.Join(outputs, ", "), from)
	if len(groupBy) > 0 {
		a.sql += " GROUP BY " + strings.Join(groupBy, ", ")
	}
	if err := a.describe(ctx); err != nil {
		return nil, err
	}
	for i, slot := range a.slots {
		slot.typ = a.cols[len(groupBy)+i].Type
	}

	if len(groupBy) > 0 {
		a.unique = store.ColumnNames(a.cols[:len(groupBy)])
		rows, err := a.refetch(ctx, a.sql, a.args...)
		if err != nil {
			return nil, err
		}
		a.groups = rows
		a.attach(parent, a.onGrouped)
		return a, nil
	}

	if a.nargs > 0 {
		cols := parent.Columns()
		n := len(args)
		list := strings.Join(argExprs, ", ")
		a.evalOne = fmt.Sprintf("SELECT %s FROM %s AS %s", list, rowSource(cols, n+1), quote(alias))
		a.evalTwo = fmt.Sprintf("SELECT 0 AS __i, %s FROM %s AS %s UNION ALL SELECT 1, %s FROM %s AS %s ORDER BY __i",
			list, rowSource(cols, n+1), quote(alias), list, rowSource(cols, n+1+len(cols)), quote(alias))
	}
	if err := a.recompute(ctx, a.slots); err != nil {
		return nil, err
	}
	a.row = a.vector()
	a.attach(parent, a.onParent)
	return a, nil
}

// Rows returns the current single result row, or the current groups.
func (a *Aggregate) Rows() []store.Row {
	if len(a.groupBy) > 0 {
		return a.groups
	}
	return []store.Row{a.row}
}

// recompute reloads the state of slots with one query.
func (a *Aggregate) recompute(ctx context.Context, slots []*aggSlot) error {
	var cols []string
	for _, s := range slots {
		cols = append(cols, s.state()...)
	}
	q := fmt.Sprintf("SELECT %s FROM (%s) AS %s", strings.Join(cols, ", "), a.parent.SQL(), quote(a.alias))
	rows, err := a.refetch(ctx, q, a.args...)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return consistencyf("aggregate", "recompute returned %d rows", len(rows))
	}
	vals := rows[0]
	i := 0
	for _, s := range slots {
		switch s.fn {
		case aggCount:
			s.count = vals[i].AsInt()
		case aggSum:
			s.sum, err = decimalOf(vals[i])
		case aggAvg:
			s.sum, err = decimalOf(vals[i])
			s.count = vals[i+1].AsInt()
			i++
		case aggMin, aggMax:
			s.extreme, s.stale = vals[i], false
		case aggConst:
			s.value = vals[i]
		}
		if err != nil {
			return structuralf("aggregate", err, "%s is not numeric", s.text)
		}
		i++
	}
	a.log.Debug("recomputed", zap.Int("slots", len(slots)))
	return nil
}

func decimalOf(v store.Value) (decimal.Decimal, error) {
	if v.IsNull() {
		return decimal.Zero, nil
	}
	d, ok := v.Decimal()
	if !ok {
		return decimal.Zero, fmt.Errorf("value %s has no decimal form", v)
	}
	return d, nil
}

// vector renders the current output row.
func (a *Aggregate) vector() store.Row {
	out := make(store.Row, len(a.slots))
	for i, s := range a.slots {
		switch s.fn {
		case aggCount:
			out[i] = store.Int(s.count)
		case aggSum:
			out[i] = numberAs(s.sum, s.typ)
		case aggAvg:
			if s.count == 0 {
				out[i] = numberAs(decimal.Zero, s.typ)
			} else if isFloat(s.typ) {
				out[i] = store.Real(s.sum.InexactFloat64() / float64(s.count))
			} else {
				out[i] = numberAs(s.sum.Div(decimal.NewFromInt(s.count)), s.typ)
			}
		case aggMin, aggMax:
			out[i] = s.extreme
		default:
			out[i] = s.value
		}
	}
	return out
}

func isFloat(typ string) bool { return typ == "FLOAT4" || typ == "FLOAT8" }

func numberAs(d decimal.Decimal, typ string) store.Value {
	switch {
	case typ == "INT2" || typ == "INT4" || typ == "INT8":
		return store.Int(d.IntPart())
	case isFloat(typ):
		return store.Real(d.InexactFloat64())
	}
	return store.Numeric(d)
}

// evaluate returns the argument values of one or two rows.
func (a *Aggregate) evaluate(ctx context.Context, rows ...store.Row) ([]store.Row, error) {
	if a.nargs == 0 {
		return make([]store.Row, len(rows)), nil
	}
	if len(rows) == 1 {
		out, err := a.query(ctx, a.evalOne, withRows(a.args, rows[0])...)
		if err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, structuralf("aggregate", nil, "argument evaluation produced %d rows", len(out))
		}
		return out, nil
	}
	out, err := a.query(ctx, a.evalTwo, withRows(a.args, rows...)...)
	if err != nil {
		return nil, err
	}
	if len(out) != 2 {
		return nil, structuralf("aggregate", nil, "argument evaluation produced %d rows", len(out))
	}
	return []store.Row{out[0][1:], out[1][1:]}, nil
}

func (a *Aggregate) onParent(ctx context.Context, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	var err error
	switch ev.Kind {
	case EventInsert:
		err = a.apply(ctx, nil, ev.New)
	case EventDelete:
		err = a.apply(ctx, ev.Old, nil)
	case EventUpdate:
		err = a.apply(ctx, ev.Old, ev.New)
	}
	if err != nil {
		return err
	}

	var stale []*aggSlot
	for _, s := range a.slots {
		if s.stale {
			stale = append(stale, s)
		}
	}
	if len(stale) > 0 {
		if err := a.recompute(ctx, stale); err != nil {
			return err
		}
	}

	next := a.vector()
	if next.Equal(a.row) {
		return nil
	}
	prev := a.row
	a.row = next
	return a.emit(ctx, Update(prev, next))
}

// apply removes before and adds after (either may be nil).
func (a *Aggregate) apply(ctx context.Context, before, after store.Row) error {
	var inputs []store.Row
	if before != nil {
		inputs = append(inputs, before)
	}
	if after != nil {
		inputs = append(inputs, after)
	}
	vals, err := a.evaluate(ctx, inputs...)
	if err != nil {
		return err
	}
	if before != nil {
		if err := a.remove(vals[0]); err != nil {
			return err
		}
		vals = vals[1:]
	}
	if after != nil {
		return a.add(ctx, vals[0])
	}
	return nil
}

func (a *Aggregate) arg(s *aggSlot, vals store.Row) store.Value {
	if s.argIdx < 0 {
		return store.Null()
	}
	return vals[s.argIdx]
}

func (a *Aggregate) remove(vals store.Row) error {
	for _, s := range a.slots {
		v := a.arg(s, vals)
		switch s.fn {
		case aggCount:
			if s.star || !v.IsNull() {
				s.count--
			}
		case aggSum, aggAvg:
			if v.IsNull() {
				continue
			}
			d, err := decimalOf(v)
			if err != nil {
				return structuralf("aggregate", err, "%s is not numeric", s.text)
			}
			s.sum = s.sum.Sub(d)
			if s.fn == aggAvg {
				s.count--
			}
		case aggMin, aggMax:
			if !v.IsNull() && v.Equal(s.extreme) {
				s.stale = true
			}
		}
	}
	return nil
}

func (a *Aggregate) add(ctx context.Context, vals store.Row) error {
	for _, s := range a.slots {
		v := a.arg(s, vals)
		switch s.fn {
		case aggCount:
			if s.star || !v.IsNull() {
				s.count++
			}
		case aggSum, aggAvg:
			if v.IsNull() {
				continue
			}
			d, err := decimalOf(v)
			if err != nil {
				return structuralf("aggregate", err, "%s is not numeric", s.text)
			}
			s.sum = s.sum.Add(d)
			if s.fn == aggAvg {
				s.count++
			}
		case aggMin, aggMax:
			if v.IsNull() || s.stale {
				continue
			}
			if s.extreme.IsNull() {
				s.extreme = v
				continue
			}
			wider, err := a.beyond(ctx, s, v)
			if err != nil {
				return err
			}
			if wider {
				s.extreme = v
			}
		}
	}
	return nil
}

// beyond asks the store whether v is more extreme than the slot's value.
func (a *Aggregate) beyond(ctx context.Context, s *aggSlot, v store.Value) (bool, error) {
	op := "<"
	if s.fn == aggMax {
		op = ">"
	}
	q := fmt.Sprintf("SELECT %s %s %s", param(1, s.typ), op, param(2, s.typ))
	rows, err := a.query(ctx, q, v.Arg(), s.extreme.Arg())
	if err != nil {
		return false, err
	}
	return len(rows) == 1 && rows[0][0].AsBool(), nil
}

func (a *Aggregate) onGrouped(ctx context.Context, ev Event) error {
	if _, ok := unordered(ev); !ok {
		return nil
	}
	rows, err := a.refetch(ctx, a.sql, a.args...)
	if err != nil {
		return err
	}
	prev := a.groups
	a.groups = rows
	return a.diffGroups(ctx, prev, rows)
}

func (a *Aggregate) diffGroups(ctx context.Context, prev, next []store.Row) error {
	k := len(a.groupBy)
	key := func(r store.Row) string { return r[:k].Key() }

	nextByKey := make(map[string]store.Row, len(next))
	for _, r := range next {
		nextByKey[key(r)] = r
	}
	prevKeys := make(map[string]bool, len(prev))
	for _, old := range prev {
		prevKeys[key(old)] = true
		cur, ok := nextByKey[key(old)]
		switch {
		case !ok:
			if err := a.emit(ctx, Delete(old)); err != nil {
				return err
			}
		case !cur.Equal(old):
			if err := a.emit(ctx, Update(old, cur)); err != nil {
				return err
			}
		}
	}
	for _, r := range next {
		if prevKeys[key(r)] {
			continue
		}
		if err := a.emit(ctx, Insert(r)); err != nil {
			return err
		}
	}
	return nil
}
