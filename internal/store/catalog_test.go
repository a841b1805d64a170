package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/pglive/pkg/fixgres"
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func TestLookupTable(t *testing.T) {
	sbx := fixgres.NewSandbox(t, nil)
	ctx := context.Background()
	st := New(sbx.DB)

	_, err := st.Exec(ctx, `
		CREATE TABLE items (
			id int PRIMARY KEY,
			sku text NOT NULL UNIQUE,
			a int, b int,
			c int NOT NULL, d int NOT NULL,
			price numeric,
			UNIQUE (a, b),
			UNIQUE (c, d)
		)`)
	require.NoError(t, err)

	info, err := st.LookupTable(ctx, "", "items")
	require.NoError(t, err)
	assert.Equal(t, sbx.Schema, info.Schema)
	assert.Equal(t, "items", info.Name)
	assert.Equal(t, []string{"id", "sku", "a", "b", "c", "d", "price"}, ColumnNames(info.Columns))
	assert.Equal(t, "INT4", info.Columns[0].Type)
	assert.Equal(t, []string{"id"}, info.PrimaryKey)
	// (a, b) admits many rows of NULLs, so it is no key
	assert.ElementsMatch(t, [][]string{{"sku"}, {"c", "d"}}, info.UniqueKeys)

	_, err = st.Exec(ctx, `CREATE TABLE loose (code text UNIQUE, v int)`)
	require.NoError(t, err)
	info, err = st.LookupTable(ctx, "", "loose")
	require.NoError(t, err)
	assert.Empty(t, info.UniqueKeys)
	assert.Nil(t, info.BestKey())

	_, err = st.LookupTable(ctx, "", "nope")
	assert.ErrorIs(t, err, ErrNoSuchTable)
}

func TestQueryDecodesValues(t *testing.T) {
	sbx := fixgres.NewSandbox(t, nil)
	st := New(sbx.DB)

	res, err := st.Query(context.Background(), `SELECT 1::int4 AS a, 2.50::numeric AS b, 'x'::text AS c, NULL::int AS d, true AS e`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ColumnNames(res.Columns))
	assert.True(t, MustValues(1, 2.5, "x", nil, true).Equal(res.Rows[0]), "%v", res.Rows[0])
	assert.Equal(t, KindNumeric, res.Rows[0][1].Kind())
}

func TestLookupFunc(t *testing.T) {
	sbx := fixgres.NewSandbox(t, nil)
	st := New(sbx.DB)
	ctx := context.Background()

	f, err := st.LookupFunc(ctx, "string_agg")
	require.NoError(t, err)
	assert.Equal(t, FuncTraits{Known: true, Aggregate: true}, f)

	f, err = st.LookupFunc(ctx, "generate_series")
	require.NoError(t, err)
	assert.Equal(t, FuncTraits{Known: true, SetReturning: true}, f)

	f, err = st.LookupFunc(ctx, "lower")
	require.NoError(t, err)
	assert.Equal(t, FuncTraits{Known: true}, f)

	f, err = st.LookupFunc(ctx, "no_such_function")
	require.NoError(t, err)
	assert.False(t, f.Known)
}

func TestConstraintViolation(t *testing.T) {
	sbx := fixgres.NewSandbox(t, nil)
	st := New(sbx.DB)
	ctx := context.Background()

	_, err := st.Exec(ctx, `CREATE TABLE u (id int PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = st.Exec(ctx, `INSERT INTO u VALUES (1)`)
	require.NoError(t, err)
	_, err = st.Exec(ctx, `INSERT INTO u VALUES (1)`)
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))
	assert.Equal(t, "23505", SQLState(err))
}
