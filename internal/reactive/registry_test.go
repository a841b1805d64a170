package reactive

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/pglive/internal/metrics"
	"github.com/zoravur/pglive/internal/store"
)

func TestCompileShapes(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		sql  string
		kind string
	}{
		{`SELECT * FROM items`, "table"},
		{`SELECT * FROM items WHERE qty > 3`, "where"},
		{`SELECT name FROM items`, "select"},
		{`SELECT count(*) FROM items`, "aggregate"},
		{`SELECT category, max(price) FROM items GROUP BY category`, "aggregate"},
		{`SELECT * FROM items ORDER BY id LIMIT 2`, "order"},
		{`SELECT name FROM items UNION ALL SELECT name FROM archive`, "union_all"},
		{`SELECT name FROM items UNION SELECT name FROM archive`, "union"},
		{`SELECT name FROM items INTERSECT SELECT name FROM archive`, "intersect"},
		{`SELECT 1 AS one`, "static"},
		{`VALUES (1, 'a'), (2, 'b')`, "static"},
		{`WITH cheap AS (SELECT * FROM items WHERE price < 1) SELECT name FROM cheap`, "select"},
		{`SELECT n FROM (SELECT name AS n FROM items) AS s WHERE n <> 'kale'`, "select"},
		{`SELECT * FROM (SELECT name AS n FROM items) AS s WHERE n <> 'kale'`, "where"},
		// sorting by a column the select list drops fails in the store
		{`SELECT name FROM items ORDER BY qty`, "fallback"},

		{`SELECT DISTINCT category FROM items`, "fallback"},
		{`SELECT i.name, c.label FROM items i JOIN categories c ON c.name = i.category`, "fallback"},
		{`SELECT name FROM items EXCEPT SELECT name FROM archive`, "fallback"},
		{`SELECT string_agg(name, ',') FROM items`, "fallback"},
		{`SELECT name FROM items WHERE id IN (SELECT id FROM archive)`, "fallback"},
		{`SELECT category, count(*) FROM items GROUP BY category HAVING count(*) > 1`, "fallback"},
		{`SELECT name, generate_series(1, 2) FROM items`, "fallback"},
		{`SELECT name, row_number() OVER () FROM items`, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			op := e.query(tt.sql)
			assert.Equal(t, tt.kind, op.Kind())

			// every shape agrees with its own batch query
			m := watch(t, op)
			e.exec(`INSERT INTO items VALUES (100, 'zucchini', 'veg', 0.90, 4)`)
			m.check()
			e.exec(`DELETE FROM items WHERE id = 100`)
			m.check()
			m.close()
		})
	}
}

func TestQueryErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.reg.Query(e.ctx, `SELECT * FROM nope`)
	assert.True(t, IsStructural(err), "%v", err)

	_, err = e.reg.Query(e.ctx, `DELETE FROM items`)
	assert.True(t, IsStructural(err), "%v", err)

	_, err = e.reg.Query(e.ctx, `SELEKT 1`)
	assert.True(t, IsStructural(err), "%v", err)

	_, err = e.reg.Query(e.ctx, `SELECT * FROM items LIMIT $1`, -1)
	assert.True(t, IsStructural(err), "%v", err)

	_, err = e.reg.Exec(e.ctx, `CREATE TABLE t (a int)`)
	assert.True(t, IsStructural(err), "%v", err)
}

func TestLimitFromArgument(t *testing.T) {
	e := newEnv(t)
	op := e.query(`SELECT name, qty FROM items WHERE qty > $1 ORDER BY qty DESC LIMIT $2`, 1, 2)
	o, ok := op.(*Order)
	require.True(t, ok)
	assert.Equal(t, 2, o.Limit())
	want := []store.Row{store.MustValues("banana", 30), store.MustValues("apple", 10)}
	assert.True(t, sameRows(want, o.Rows()), "%v", o.Rows())
}

func TestRegistryCache(t *testing.T) {
	e := newEnv(t)
	q := `SELECT name FROM items WHERE qty > $1`
	a := e.query(q, 5)
	assert.Same(t, a, e.query("select   name\nfrom items where qty > $1", int64(5)))
	assert.NotSame(t, a, e.query(q, 6))
	assert.Equal(t, 2, e.reg.Cache().Len())

	sub := a.Subscribe(func(context.Context, Event) error { return nil })
	a.Unsubscribe(sub)
	assert.True(t, a.Released())
	assert.Equal(t, 1, e.reg.Cache().Len())
	assert.NotSame(t, a, e.query(q, 5))
}

func TestReleaseUnwatched(t *testing.T) {
	e := newEnv(t)
	watched := e.query(`SELECT name FROM items WHERE qty > $1`, 5)
	m := watch(t, watched)
	idle := e.query(`SELECT name, price FROM items ORDER BY price LIMIT 2`)
	require.Equal(t, 2, e.reg.Cache().Len())

	e.reg.Release(watched)
	assert.False(t, watched.Released())

	e.reg.Release(idle)
	assert.True(t, idle.Released())
	assert.Equal(t, 1, e.reg.Cache().Len())

	// a released tree no longer reacts to its tables
	items := e.table("items")
	e.reg.Release(items)
	assert.False(t, items.Released())
	e.exec(`INSERT INTO items VALUES (6, 'fig', 'fruit', 0.10, 9)`)
	assert.True(t, store.MustValues("banana", 0.25).Equal(idle.(*Order).Rows()[0]), "%v", idle.(*Order).Rows())
	assert.Len(t, m.take(), 1)
	m.check()
}

func TestLiveOperatorGauge(t *testing.T) {
	e := newEnv(t)
	items := e.table("items")
	before := metrics.LiveOperators("where")

	_, err := NewWhere(e.ctx, items, "items", "no_such_column > 1")
	require.Error(t, err)
	assert.Equal(t, before, metrics.LiveOperators("where"))

	w, err := NewWhere(e.ctx, items, "items", "qty > 1")
	require.NoError(t, err)
	assert.Equal(t, before+1, metrics.LiveOperators("where"))
	m := watch(t, w)
	m.close()
	assert.True(t, w.Released())
	assert.Equal(t, before, metrics.LiveOperators("where"))
}

func TestExecPropagates(t *testing.T) {
	e := newEnv(t)
	op := e.query(`SELECT count(*) AS n FROM items WHERE category = $1`, "fruit")
	m := watch(t, op)

	res, err := e.reg.Exec(e.ctx, `INSERT INTO items VALUES (6, 'cherry', 'fruit', 4.00, 100)`)
	require.NoError(t, err)
	assert.Nil(t, res)
	assertEvents(t, []Event{Update(store.MustValues(2), store.MustValues(3))}, m.take())

	sel, err := e.reg.Exec(e.ctx, `SELECT count(*) AS n FROM items WHERE category = $1`, "fruit")
	require.NoError(t, err)
	assert.Same(t, op, sel)
}

func TestScalarFollowsParams(t *testing.T) {
	e := newEnv(t)
	category := NewSignal(store.Text("fruit"))
	v, err := e.reg.Scalar(e.ctx, `SELECT count(*) FROM items WHERE category = $1`, category)
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, store.Int(2), v.Value())

	first := v.Target()
	require.NoError(t, category.Set(e.ctx, store.Text("meat")))
	assert.Equal(t, store.Int(1), v.Value())
	assert.True(t, first.(*OneValue).Released())

	e.exec(`INSERT INTO items VALUES (6, 'ham', 'meat', 7.00, 1)`)
	assert.Equal(t, store.Int(2), v.Value())
}

func TestFallbackDiffs(t *testing.T) {
	e := newEnv(t)
	op := e.query(`SELECT DISTINCT category FROM items`)
	require.Equal(t, "fallback", op.Kind())
	m := watch(t, op)

	e.exec(`INSERT INTO items (id, name, category) VALUES (6, 'milk', 'dairy')`)
	assertEvents(t, []Event{Insert(store.MustValues("dairy"))}, m.take())

	e.exec(`INSERT INTO items (id, name, category) VALUES (7, 'brie', 'dairy')`)
	assert.Empty(t, m.take())

	// events of tables the query does not read are ignored
	e.exec(`INSERT INTO archive (id, name, category) VALUES (12, 'brie', 'cheese')`)
	assert.Empty(t, m.take())

	e.exec(`DELETE FROM items WHERE category = 'dairy'`)
	assertEvents(t, []Event{Delete(store.MustValues("dairy"))}, m.take())
	m.check()
}

func TestExplainGolden(t *testing.T) {
	e := newEnv(t)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	tests := []struct {
		name string
		sql  string
		args []any
	}{
		{"where_select_order", `SELECT name, price FROM items WHERE price > $1 ORDER BY price DESC LIMIT 3`, []any{1}},
		{"grouped_aggregate", `SELECT category, count(*), sum(qty) AS total FROM items GROUP BY category`, nil},
		{"union_all", `SELECT name FROM items UNION ALL SELECT name FROM archive`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := e.query(tt.sql, tt.args...)
			out := strings.ReplaceAll(Explain(op), e.sbx.Schema+".", "")
			g.Assert(t, tt.name, []byte(out))
		})
	}
}
