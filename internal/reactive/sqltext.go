package reactive

import (
	"fmt"
	"strings"

	"github.com/zoravur/pglive/internal/store"
)

func quote(name string) string { return store.QuoteIdent(name) }

// param renders placeholder n cast to typ when the type name is usable.
func param(n int, typ string) string {
	if typ == "" || strings.Trim(typ, "0123456789") == "" {
		return fmt.Sprintf("$%d", n)
	}
	return fmt.Sprintf("$%d::%s", n, typ)
}

// rowSource renders a one-row derived table carrying a row as parameters
// $first.. with the column names and types of cols.
func rowSource(cols []store.Column, first int) string {
	var sb strings.Builder
	sb.WriteString("(SELECT ")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(param(first+i, c.Type))
		sb.WriteString(" AS ")
		sb.WriteString(quote(c.Name))
	}
	sb.WriteString(")")
	return sb.String()
}

// eqForm renders expr of type typ so that equality and ordering exist and
// mean identity. json, xml and the geometric types compare as text.
func eqForm(expr, typ string) string {
	switch strings.ToUpper(typ) {
	case "JSON", "XML", "POINT", "LINE", "LSEG", "BOX", "PATH", "POLYGON", "CIRCLE":
		return "(" + expr + ")::text"
	}
	return expr
}

// sameRowSQL renders `ROW(exprs) IS NOT DISTINCT FROM ROW($first::T, ...)`.
func sameRowSQL(exprs []string, cols []store.Column, first int) string {
	left := make([]string, len(cols))
	right := make([]string, len(cols))
	for i, c := range cols {
		left[i] = eqForm(exprs[i], c.Type)
		right[i] = eqForm(param(first+i, c.Type), c.Type)
	}
	return fmt.Sprintf("ROW(%s) IS NOT DISTINCT FROM ROW(%s)", strings.Join(left, ", "), strings.Join(right, ", "))
}

// positional renders __c0, __c1, ... for n columns.
func positional(n int) []string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("__c%d", i)
	}
	return parts
}

// countMatchSQL counts the rows of query equal to the row bound at $first.
func countMatchSQL(query string, cols []store.Column, first int) string {
	list := positional(len(cols))
	return fmt.Sprintf("(SELECT count(*) FROM (%s) AS __m(%s) WHERE %s)",
		query, strings.Join(list, ", "), sameRowSQL(list, cols, first))
}

// withRows appends row parameters after the shared arguments.
func withRows(args []any, rows ...store.Row) []any {
	out := make([]any, 0, len(args)+len(rows)*4)
	out = append(out, args...)
	for _, r := range rows {
		out = append(out, r.Args()...)
	}
	return out
}

func columnsEqual(a, b []store.Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

func quotedList(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = quote(n)
	}
	return strings.Join(parts, ", ")
}
