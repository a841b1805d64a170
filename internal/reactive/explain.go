package reactive

import (
	"fmt"
	"strings"

	"github.com/zoravur/pglive/internal/store"
)

// Explain renders the operator tree rooted at op, one operator per line,
// parents indented below their children.
func Explain(op Operator) string {
	var sb strings.Builder
	explain(&sb, op, 0)
	return sb.String()
}

func explain(sb *strings.Builder, op Operator, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(summary(op))
	if cols := op.Columns(); len(cols) > 0 {
		fmt.Fprintf(sb, " -> (%s)", strings.Join(store.ColumnNames(cols), ", "))
	}
	sb.WriteString("\n")
	for _, p := range op.Parents() {
		explain(sb, p, depth+1)
	}
}

func summary(op Operator) string {
	switch o := op.(type) {
	case *Table:
		return "table " + o.Name()
	case *Where:
		return fmt.Sprintf("where %s: %s", o.alias, o.pred)
	case *Select:
		return fmt.Sprintf("select %s: %s", o.alias, o.targets)
	case *Aggregate:
		exprs := make([]string, len(o.slots))
		for i, s := range o.slots {
			exprs[i] = s.text
		}
		d := fmt.Sprintf("aggregate %s: %s", o.alias, strings.Join(exprs, ", "))
		if len(o.groupBy) > 0 {
			d += " group by " + strings.Join(o.groupBy, ", ")
		}
		return d
	case *Order:
		d := fmt.Sprintf("order %s: %s", o.alias, strings.Join(o.terms, ", "))
		if o.limit != NoLimit {
			d += fmt.Sprintf(" limit %d", o.limit)
		}
		if o.offset > 0 {
			d += fmt.Sprintf(" offset %d", o.offset)
		}
		if o.memory != nil {
			d += " (in memory)"
		}
		return d
	case *UnionAll:
		return "union all"
	case *Union:
		return "union"
	case *Intersect:
		return "intersect"
	case *Join:
		return fmt.Sprintf("%s %s, %s on %s", strings.ToLower(o.spec.keyword()), o.spec.LeftAlias, o.spec.RightAlias, o.spec.On)
	case *Static:
		return fmt.Sprintf("static %d rows", len(o.rows))
	case *Fallback:
		return "fallback: " + o.sql
	}
	return op.Kind()
}
