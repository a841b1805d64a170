package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTables(t *testing.T) {
	st, err := ParseOne(`
		WITH recent AS (SELECT * FROM orders WHERE placed > now() - interval '1 day')
		SELECT c.name, r.total
		FROM customers c
		JOIN recent r ON r.customer_id = c.id
		WHERE c.id IN (SELECT customer_id FROM app.flags)
		UNION ALL
		SELECT name, 0 FROM customers`)
	require.NoError(t, err)

	var names []string
	for _, ref := range Tables(st.Tree) {
		names = append(names, ref.String())
	}
	assert.ElementsMatch(t, []string{"orders", "customers", "app.flags"}, names)
}

func TestMaxParam(t *testing.T) {
	st, err := ParseOne("SELECT * FROM items WHERE a = $2 AND b IN (SELECT x FROM y WHERE z = $5)")
	require.NoError(t, err)
	assert.Equal(t, 5, MaxParam(st.Tree))

	st, err = ParseOne("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 0, MaxParam(st.Tree))
}

func TestCompactParams(t *testing.T) {
	sql, keep, err := CompactParams("SELECT $1 + $2", 2)
	require.NoError(t, err)
	assert.Nil(t, keep)
	assert.Equal(t, "SELECT $1 + $2", sql)

	sql, keep, err = CompactParams("SELECT count(*) FROM (SELECT $3::int4 AS a, $4::text AS b) AS t WHERE a > 1", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, keep)
	assert.Contains(t, sql, "$1")
	assert.Contains(t, sql, "$2")
	assert.NotContains(t, sql, "$3")

	sql, keep, err = CompactParams("SELECT 1", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{}, keep)
	assert.NotContains(t, sql, "$")

	_, _, err = CompactParams("SELEKT", 1)
	assert.Error(t, err)
}

func TestIsStar(t *testing.T) {
	for sql, want := range map[string]bool{
		"SELECT * FROM t":      true,
		"SELECT t.* FROM t":    true,
		"SELECT a FROM t":      false,
		"SELECT *, a FROM t":   false,
		"SELECT a AS b FROM t": false,
	} {
		st, err := ParseOne(sql)
		require.NoError(t, err)
		assert.Equal(t, want, IsStar(st.Select().GetTargetList()), sql)
	}
}

func TestHasSubLinkAndFuncName(t *testing.T) {
	n, err := ParseExpr("a > (SELECT max(b) FROM t)")
	require.NoError(t, err)
	assert.True(t, HasSubLink(n))

	n, err = ParseExpr("pg_catalog.lower(a)")
	require.NoError(t, err)
	assert.False(t, HasSubLink(n))
	assert.Equal(t, "lower", FuncName(n.GetFuncCall()))
}

func TestDeparseTarget(t *testing.T) {
	st, err := ParseOne(`SELECT price * 2 AS "Double", name FROM t`)
	require.NoError(t, err)
	targets := st.Select().GetTargetList()

	out, err := DeparseTarget(targets[0].GetResTarget())
	require.NoError(t, err)
	assert.Equal(t, `price * 2 AS "Double"`, out)

	out, err = DeparseTarget(targets[1].GetResTarget())
	require.NoError(t, err)
	assert.Equal(t, "name", out)
}
