package reactive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/metrics"
	"github.com/zoravur/pglive/internal/sqlparse"
	"github.com/zoravur/pglive/internal/store"
)

// Operator is a node of the dataflow graph.
type Operator interface {
	// SQL is the batch query equivalent to the operator's result.
	SQL() string
	// Args binds the positional parameters of SQL.
	Args() []any
	Columns() []store.Column
	// Store is nil for operators computed purely in memory.
	Store() *store.Store
	// UniqueColumns names columns whose values identify a row, if known.
	UniqueColumns() []string

	Subscribe(fn Listener) Subscription
	Unsubscribe(id Subscription)
	Listeners() int

	Kind() string
	Parents() []Operator
	Released() bool
}

// Materialized is implemented by operators holding their result in memory.
type Materialized interface {
	Rows() []store.Row
}

// base carries what every operator shares: identity, bootstrap query,
// listener list and the edges to its parents.
type base struct {
	listeners

	kind   string
	st     *store.Store
	sql    string
	args   []any
	cols   []store.Column
	unique []string

	parents  []Operator
	attached []Subscription
	released bool
	hooks    []func()
	counted  bool

	// side-queries rewritten to the arguments they reference
	bound map[string]binding

	log *zap.Logger
}

type binding struct {
	sql  string
	keep []int
}

func newBase(kind string, st *store.Store) *base {
	b := &base{kind: kind, st: st, log: zap.L().Named(kind)}
	b.onEmpty = b.release
	return b
}

// live counts b in the live-operator gauge once it is fully built.
func (b *base) live() {
	if b.counted {
		return
	}
	b.counted = true
	metrics.OperatorAttached(b.kind)
}

func (b *base) SQL() string             { return b.sql }
func (b *base) Args() []any             { return b.args }
func (b *base) Columns() []store.Column { return b.cols }
func (b *base) Store() *store.Store     { return b.st }
func (b *base) UniqueColumns() []string { return b.unique }
func (b *base) Kind() string            { return b.kind }
func (b *base) Parents() []Operator     { return b.parents }
func (b *base) Released() bool          { return b.released }

// attach subscribes fn to parent and records the edge for release.
func (b *base) attach(parent Operator, fn Listener) {
	b.parents = append(b.parents, parent)
	b.attached = append(b.attached, parent.Subscribe(fn))
	b.live()
}

// onRelease registers fn to run once the operator detaches.
func (b *base) onRelease(fn func()) { b.hooks = append(b.hooks, fn) }

// release detaches from every parent. Parents left without listeners
// release in turn.
func (b *base) release() {
	if b.released {
		return
	}
	b.released = true
	for i, p := range b.parents {
		p.Unsubscribe(b.attached[i])
	}
	for _, fn := range b.hooks {
		fn()
	}
	if b.counted {
		metrics.OperatorReleased(b.kind)
	}
	b.log.Debug("released", zap.String("sql", b.sql))
}

// abandon is used by constructors that fail after attaching.
func (b *base) abandon(err error) error {
	b.release()
	return err
}

func (b *base) emit(ctx context.Context, ev Event) error {
	metrics.IncEvents(b.kind, ev.Kind.String())
	if ce := b.log.Check(zap.DebugLevel, "emit"); ce != nil {
		ce.Write(zap.Stringer("event", ev), zap.Int("listeners", b.Listeners()))
	}
	return b.notify(ctx, ev)
}

// bind drops the shared arguments q does not reference and renumbers the
// rest, since the store refuses placeholders it cannot type.
func (b *base) bind(q string, args []any) (string, []any, error) {
	if len(args) == 0 {
		return q, args, nil
	}
	key := fmt.Sprintf("%d\x00%s", len(args), q)
	bd, ok := b.bound[key]
	if !ok {
		sql, keep, err := sqlparse.CompactParams(q, len(args))
		if err != nil {
			return "", nil, structuralf(b.kind, err, "cannot bind query")
		}
		bd = binding{sql: sql, keep: keep}
		if b.bound == nil {
			b.bound = map[string]binding{}
		}
		b.bound[key] = bd
	}
	if bd.keep == nil {
		return q, args, nil
	}
	out := make([]any, len(bd.keep))
	for i, k := range bd.keep {
		out[i] = args[k]
	}
	return bd.sql, out, nil
}

// query runs a side-query on behalf of an event.
func (b *base) query(ctx context.Context, q string, args ...any) ([]store.Row, error) {
	metrics.IncSideQueries(b.kind)
	q, args, err := b.bind(q, args)
	if err != nil {
		return nil, err
	}
	rows, err := b.st.Rows(ctx, q, args...)
	return rows, execErr(b.kind, err)
}

// refetch runs a full recompute query.
func (b *base) refetch(ctx context.Context, q string, args ...any) ([]store.Row, error) {
	metrics.IncRecomputes(b.kind)
	q, args, err := b.bind(q, args)
	if err != nil {
		return nil, err
	}
	rows, err := b.st.Rows(ctx, q, args...)
	return rows, execErr(b.kind, err)
}

// count runs a query whose first column is an integer.
func (b *base) count(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := b.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, consistencyf(b.kind, "count query returned %d rows", len(rows))
	}
	out := make([]int64, len(rows[0]))
	for i, v := range rows[0] {
		out[i] = v.AsInt()
	}
	return out, nil
}

// describe sets cols from the bootstrap query.
func (b *base) describe(ctx context.Context) error {
	q, args, err := b.bind(b.sql, b.args)
	if err != nil {
		return err
	}
	cols, err := b.st.Describe(ctx, q, args...)
	if err != nil {
		return execErr(b.kind, err)
	}
	b.cols = cols
	return nil
}

// needStore rejects parents computed in memory where a store is required.
func needStore(kind string, parents ...Operator) (*store.Store, error) {
	var st *store.Store
	for _, p := range parents {
		if p.Store() == nil {
			return nil, structuralf(kind, nil, "parent %s has no store", p.Kind())
		}
		if st != nil && p.Store() != st {
			return nil, structuralf(kind, nil, "parents use different stores")
		}
		st = p.Store()
	}
	return st, nil
}

// extendArgs returns the argument list of a child: args when given, else
// the parent's. A child's list must start with its parents' lists.
func extendArgs(kind string, args []any, parents ...Operator) ([]any, error) {
	out := args
	for _, p := range parents {
		pa := p.Args()
		if len(pa) > len(out) {
			if !argsPrefix(out, pa) {
				return nil, structuralf(kind, nil, "parent arguments do not agree")
			}
			out = pa
			continue
		}
		if !argsPrefix(pa, out) {
			return nil, structuralf(kind, nil, "arguments do not extend parent arguments")
		}
	}
	return out, nil
}

func argsPrefix(prefix, full []any) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i := range prefix {
		a, aerr := store.FromArg(prefix[i])
		b, berr := store.FromArg(full[i])
		if aerr != nil || berr != nil {
			if fmt.Sprint(prefix[i]) != fmt.Sprint(full[i]) {
				return false
			}
			continue
		}
		if a.Kind() != b.Kind() || !a.Equal(b) {
			return false
		}
	}
	return true
}
