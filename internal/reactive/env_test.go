package reactive

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/pglive/internal/store"
	"github.com/zoravur/pglive/pkg/fixgres"
)

//go:embed testdata/migrations/*.sql
var migrations embed.FS

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

// env is a registry over a freshly migrated sandbox schema.
type env struct {
	t   *testing.T
	ctx context.Context
	sbx *fixgres.Sandbox
	st  *store.Store
	reg *Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir, err := fs.Sub(migrations, "testdata/migrations")
	require.NoError(t, err)
	sbx := fixgres.NewSandbox(t, dir)
	st := store.New(sbx.DB)
	return &env{t: t, ctx: context.Background(), sbx: sbx, st: st, reg: NewRegistry(st)}
}

func (e *env) table(name string) *Table {
	e.t.Helper()
	tb, err := e.reg.Table(e.ctx, name)
	require.NoError(e.t, err)
	return tb
}

func (e *env) query(sql string, args ...any) Operator {
	e.t.Helper()
	op, err := e.reg.Query(e.ctx, sql, args...)
	require.NoError(e.t, err)
	return op
}

func (e *env) exec(sql string, args ...any) {
	e.t.Helper()
	_, err := e.reg.Exec(e.ctx, sql, args...)
	require.NoError(e.t, err)
}

// mirror replays an operator's events on a copy of its initial result the
// way a client would, so the copy can be compared with a fresh query.
type mirror struct {
	t       *testing.T
	op      Operator
	rows    []store.Row
	ordered bool
	events  []Event
	sub     Subscription
}

func watch(t *testing.T, op Operator) *mirror {
	t.Helper()
	m := &mirror{t: t, op: op}
	_, m.ordered = op.(*Order)
	if mat, ok := op.(Materialized); ok {
		m.rows = slices.Clone(mat.Rows())
	} else {
		rows, err := op.Store().Rows(context.Background(), op.SQL(), op.Args()...)
		require.NoError(t, err)
		m.rows = rows
	}
	m.sub = op.Subscribe(func(_ context.Context, ev Event) error {
		m.events = append(m.events, ev)
		m.apply(ev)
		return nil
	})
	return m
}

func (m *mirror) apply(ev Event) {
	if m.ordered {
		m.rows = applyPatch(m.rows, []Event{ev})
		return
	}
	find := func(r store.Row) int {
		i := slices.IndexFunc(m.rows, func(x store.Row) bool { return x.Equal(r) })
		if i < 0 {
			m.t.Errorf("%s: %s targets a row not in the result", m.op.Kind(), ev)
		}
		return i
	}
	switch ev.Kind {
	case EventInsert:
		m.rows = append(m.rows, ev.New)
	case EventDelete:
		if i := find(ev.Old); i >= 0 {
			m.rows = slices.Delete(m.rows, i, i+1)
		}
	case EventUpdate:
		if i := find(ev.Old); i >= 0 {
			m.rows[i] = ev.New
		}
	}
}

// take returns the events seen since the last call.
func (m *mirror) take() []Event {
	out := m.events
	m.events = nil
	return out
}

// check compares the replayed result with the operator's query.
func (m *mirror) check() {
	m.t.Helper()
	want, err := m.op.Store().Rows(context.Background(), m.op.SQL(), m.op.Args()...)
	require.NoError(m.t, err)
	if m.ordered {
		assert.True(m.t, sameRows(want, m.rows), "%s window\nwant %v\n got %v", m.op.Kind(), want, m.rows)
	} else {
		assert.True(m.t, store.BagEqual(want, m.rows), "%s result\nwant %v\n got %v", m.op.Kind(), want, m.rows)
	}
	if mat, ok := m.op.(Materialized); ok {
		held := mat.Rows()
		same := store.BagEqual(want, held)
		if m.ordered {
			same = sameRows(want, held)
		}
		assert.True(m.t, same, "%s rows\nwant %v\n got %v", m.op.Kind(), want, held)
	}
}

func (m *mirror) close() { m.op.Unsubscribe(m.sub) }

func sameRows(a, b []store.Row) bool {
	return slices.EqualFunc(a, b, func(x, y store.Row) bool { return x.Equal(y) })
}

// assertEvents compares events by value, so 1.5 matches a NUMERIC 1.50.
func assertEvents(t *testing.T, want, got []Event) {
	t.Helper()
	same := slices.EqualFunc(want, got, func(a, b Event) bool {
		return a.Kind == b.Kind && a.Old.Equal(b.Old) && a.New.Equal(b.New) && a.Pos == b.Pos && a.To == b.To
	})
	assert.True(t, same, "want %v\n got %v", want, got)
}

func item(id int, name string, category, price, qty any) store.Row {
	return store.MustValues(id, name, category, price, qty)
}
