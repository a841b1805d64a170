package reactive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/pglive/internal/store"
)

var pairCols = []store.Column{{Name: "name", Type: "TEXT"}, {Name: "score", Type: "INT4"}}

func pair(name string, score any) store.Row { return store.MustValues(name, score) }

func TestStaticSet(t *testing.T) {
	ctx := context.Background()
	s, err := NewStatic(pairCols, []store.Row{pair("a", 1), pair("b", 2)})
	require.NoError(t, err)
	got := record(s)

	require.NoError(t, s.Set(ctx, []store.Row{pair("b", 2), pair("c", 3)}))
	assert.Equal(t, []Event{Delete(pair("a", 1)), Insert(pair("c", 3))}, *got)
	assert.Contains(t, s.SQL(), `AS __s("name", "score")`)

	assert.Error(t, s.Set(ctx, []store.Row{store.MustValues("x")}))

	require.NoError(t, s.Set(ctx, nil))
	assert.Equal(t, `SELECT NULL::TEXT AS "name", NULL::INT4 AS "score" WHERE FALSE`, s.SQL())
}

func TestNewStaticRejectsArity(t *testing.T) {
	_, err := NewStatic(pairCols, []store.Row{store.MustValues(1)})
	assert.True(t, IsStructural(err))
}

func TestOrderInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := NewStatic(pairCols, []store.Row{pair("a", 3), pair("b", nil), pair("c", 1), pair("d", 2)})
	require.NoError(t, err)

	o, err := NewOrder(ctx, s, "s", []string{"score DESC"}, 2, 0)
	require.NoError(t, err)
	// DESC puts NULLs first, as the store does
	assert.Equal(t, []store.Row{pair("b", nil), pair("a", 3)}, o.Rows())

	require.NoError(t, o.SetLimit(ctx, 2, 1))
	assert.Equal(t, []store.Row{pair("a", 3), pair("d", 2)}, o.Rows())

	window := o.Rows()
	got := record(o)
	require.NoError(t, s.Set(ctx, []store.Row{pair("a", 3), pair("b", nil), pair("c", 1), pair("d", 2), pair("e", 5)}))
	assert.Equal(t, []store.Row{pair("e", 5), pair("a", 3)}, o.Rows())
	assert.Equal(t, o.Rows(), applyPatch(window, *got))
}

func TestOrderInMemoryTerms(t *testing.T) {
	ctx := context.Background()
	s, err := NewStatic(pairCols, []store.Row{pair("b", 1), pair("a", 1), pair("c", nil)})
	require.NoError(t, err)

	o, err := NewOrder(ctx, s, "s", []string{`s.score ASC NULLS FIRST`, `"name"`}, NoLimit, 0)
	require.NoError(t, err)
	assert.Equal(t, []store.Row{pair("c", nil), pair("a", 1), pair("b", 1)}, o.Rows())

	_, err = NewOrder(ctx, s, "s", []string{"score + 1"}, NoLimit, 0)
	assert.True(t, IsUnsupported(err))

	_, err = NewOrder(ctx, s, "s", []string{"nope"}, NoLimit, 0)
	assert.True(t, IsStructural(err))

	_, err = NewOrder(ctx, s, "s", nil, NoLimit, -1)
	assert.True(t, IsStructural(err))
}

func TestOneValueInMemory(t *testing.T) {
	ctx := context.Background()
	cols := []store.Column{{Name: "v", Type: "INT4"}}
	s, err := NewStatic(cols, []store.Row{store.MustValues(7)})
	require.NoError(t, err)

	v, err := NewOneValue(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Value().AsInt())

	got := record(v)
	require.NoError(t, s.Set(ctx, []store.Row{store.MustValues(9)}))
	assert.Equal(t, int64(9), v.Value().AsInt())

	require.NoError(t, s.Set(ctx, nil))
	assert.True(t, v.Value().IsNull())
	assert.Len(t, *got, 2)

	_, err = NewOneValue(ctx, mustStatic(t, pairCols))
	assert.True(t, IsStructural(err))
}

func TestOneValueReleasesWhenUnobserved(t *testing.T) {
	ctx := context.Background()
	s := mustStatic(t, []store.Column{{Name: "v", Type: "INT4"}}, store.MustValues(1))

	v, err := NewOneValue(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Listeners())

	id := v.Subscribe(func(context.Context, Event) error { return nil })
	v.Unsubscribe(id)
	assert.True(t, v.Released())
	assert.Equal(t, 0, s.Listeners())
}

func mustStatic(t *testing.T, cols []store.Column, rows ...store.Row) *Static {
	t.Helper()
	s, err := NewStatic(cols, rows)
	require.NoError(t, err)
	return s
}

func TestCache(t *testing.T) {
	c := NewCache()
	s := mustStatic(t, pairCols)
	o, err := NewOrder(context.Background(), s, "s", []string{"name"}, NoLimit, 0)
	require.NoError(t, err)

	key := cacheKey("SELECT 1", []any{1})
	c.Put(key, o)
	got, ok := c.Get(cacheKey("SELECT 1", []any{int64(1)}))
	require.True(t, ok)
	assert.Same(t, o, got)

	_, ok = c.Get(cacheKey("SELECT 1", []any{"1"}))
	assert.False(t, ok)

	// releasing the operator evicts it
	id := o.Subscribe(func(context.Context, Event) error { return nil })
	o.Unsubscribe(id)
	assert.True(t, o.Released())
	assert.Equal(t, 0, c.Len())
}

func TestParseAggExpr(t *testing.T) {
	tests := []struct {
		in   string
		fn   aggFunc
		arg  string
		star bool
		name string
	}{
		{"count(*)", aggCount, "*", true, ""},
		{"COUNT(price)", aggCount, "price", false, ""},
		{"sum(i.price * qty) AS total", aggSum, "i.price * qty", false, "total"},
		{`max(price) AS "Top"`, aggMax, "price", false, "Top"},
		{"avg(x)", aggAvg, "x", false, ""},
		{"sum(*)", aggConst, "", false, ""},
		{"count(DISTINCT x)", aggConst, "", false, ""},
		{"max(a) + min(b)", aggConst, "", false, ""},
		{"42 AS answer", aggConst, "", false, "answer"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e := parseAggExpr(tt.in)
			assert.Equal(t, tt.fn, e.fn)
			assert.Equal(t, tt.arg, e.arg)
			assert.Equal(t, tt.star, e.star)
			assert.Equal(t, tt.name, e.name)
		})
	}
}

func TestAggOutput(t *testing.T) {
	assert.Equal(t, `COALESCE(count(*), 0) AS "count"`, parseAggExpr("count(*)").output())
	assert.Equal(t, `min(p) AS "low"`, parseAggExpr("min(p) AS low").output())
	assert.Equal(t, []string{"sum(x)", "count(x)"}, parseAggExpr("avg(x)").state())
}

func TestSQLText(t *testing.T) {
	cols := []store.Column{{Name: "id", Type: "INT4"}, {Name: "tags", Type: "_TEXT"}, {Name: "x", Type: ""}}
	assert.Equal(t, `(SELECT $3::INT4 AS "id", $4::_TEXT AS "tags", $5 AS "x")`, rowSource(cols, 3))
	assert.Equal(t, `ROW("a", "b", "c") IS NOT DISTINCT FROM ROW($1::INT4, $2::_TEXT, $3)`,
		sameRowSQL([]string{`"a"`, `"b"`, `"c"`}, cols, 1))
	assert.Equal(t, []string{"__c0", "__c1"}, positional(2))

	doc := []store.Column{{Name: "doc", Type: "JSON"}, {Name: "at", Type: "POINT"}}
	assert.Equal(t, `ROW(("doc")::text, ("at")::text) IS NOT DISTINCT FROM ROW(($1::JSON)::text, ($2::POINT)::text)`,
		sameRowSQL([]string{`"doc"`, `"at"`}, doc, 1))
	assert.Equal(t, `"d"`, eqForm(`"d"`, "JSONB"))

	args := withRows([]any{"p"}, store.MustValues(1, "a"), store.MustValues(nil))
	assert.Equal(t, []any{"p", int64(1), "a", nil}, args)
}

func TestExtendArgs(t *testing.T) {
	s := mustStatic(t, pairCols)
	s.args = []any{1}

	got, err := extendArgs("x", nil, s)
	require.NoError(t, err)
	assert.Equal(t, []any{1}, got)

	got, err = extendArgs("x", []any{int64(1), "b"}, s)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "b"}, got)

	_, err = extendArgs("x", []any{2, "b"}, s)
	assert.True(t, IsStructural(err))
}
