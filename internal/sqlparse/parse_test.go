package sqlparse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOneKinds(t *testing.T) {
	tests := []struct {
		sql   string
		kind  StatementKind
		table string
	}{
		{"SELECT 1", KindSelect, ""},
		{"INSERT INTO items (id) VALUES (1)", KindInsert, "items"},
		{"UPDATE app.items SET x = 1", KindUpdate, "app.items"},
		{"DELETE FROM items WHERE id = 1", KindDelete, "items"},
		{"CREATE TABLE t (id int)", KindOther, ""},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			st, err := ParseOne(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, st.Kind)
			assert.Equal(t, tt.table, st.QualifiedTable())
		})
	}
}

func TestParseOneRejects(t *testing.T) {
	_, err := ParseOne("SELECT 1; SELECT 2")
	assert.Error(t, err)
	_, err = ParseOne("SELEKT 1")
	assert.Error(t, err)
}

func TestCanonical(t *testing.T) {
	a, err := Canonical("select  *\n from   items where id=1")
	require.NoError(t, err)
	b, err := Canonical("SELECT * FROM items WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseExpr(t *testing.T) {
	n, err := ParseExpr("price > $1")
	require.NoError(t, err)
	out, err := DeparseExpr(n)
	require.NoError(t, err)
	assert.Equal(t, "price > $1", out)

	_, err = ParseExpr("1 FROM items")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParseInsertAddsReturning(t *testing.T) {
	ins, err := ParseInsert("INSERT INTO items (id, name) VALUES (1, 'a')")
	require.NoError(t, err)
	assert.Equal(t, "items", ins.Table)
	assert.Contains(t, ins.SQL, "RETURNING *")

	ins, err = ParseInsert("INSERT INTO items (id) VALUES (1) RETURNING id")
	require.NoError(t, err)
	assert.Contains(t, ins.SQL, "RETURNING *")
	assert.NotContains(t, ins.SQL, "RETURNING id")

	ins, err = ParseInsert("INSERT INTO items (id) VALUES (1) ON CONFLICT DO NOTHING")
	require.NoError(t, err)
	assert.Contains(t, ins.SQL, "ON CONFLICT DO NOTHING")

	_, err = ParseInsert("INSERT INTO items (id, name) VALUES (1, 'a') ON CONFLICT (id) DO UPDATE SET name = excluded.name")
	assert.Error(t, err)
}

func TestParseUpdate(t *testing.T) {
	up, err := ParseUpdate("UPDATE items AS i SET price = price * 2 WHERE i.id = $1")
	require.NoError(t, err)
	assert.Equal(t, "items", up.Table)
	assert.Equal(t, "i", up.Ref)
	assert.Contains(t, up.Head, "SET price = price * 2")
	assert.NotContains(t, up.Head, "WHERE")
	assert.Equal(t, "i.id = $1", up.Where)
	assert.Equal(t, []Assignment{{Column: "price", Expr: "price * 2"}}, up.Sets)

	up, err = ParseUpdate("UPDATE items SET price = 0, qty = DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "items", up.Ref)
	assert.Empty(t, up.Where)
	assert.Equal(t, []Assignment{{Column: "price", Expr: "0"}}, up.Sets)
}

func TestParseUpdateUnsupported(t *testing.T) {
	for _, sql := range []string{
		"UPDATE items SET price = o.p FROM other o WHERE o.id = items.id",
		"WITH x AS (SELECT 1) UPDATE items SET price = 1",
		"UPDATE items SET (a, b) = (SELECT 1, 2)",
	} {
		_, err := ParseUpdate(sql)
		assert.True(t, errors.Is(err, ErrUnsupported), sql)
	}
}

func TestParseDelete(t *testing.T) {
	del, err := ParseDelete("DELETE FROM public.items WHERE price IS NULL")
	require.NoError(t, err)
	assert.Equal(t, "public", del.Schema)
	assert.Equal(t, "items", del.Ref)
	assert.Equal(t, "price IS NULL", del.Where)

	_, err = ParseDelete("DELETE FROM items USING other WHERE other.id = items.id")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = ParseDelete("SELECT 1")
	assert.Error(t, err)
}
