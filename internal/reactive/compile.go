package reactive

import (
	"context"
	"slices"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"

	"github.com/zoravur/pglive/internal/sqlparse"
	"github.com/zoravur/pglive/internal/store"
)

// cteScope binds WITH names to compiled operators. Inner scopes shadow
// outer ones.
type cteScope struct {
	outer *cteScope
	ops   map[string]Operator
}

func (s *cteScope) lookup(name string) (Operator, bool) {
	for ; s != nil; s = s.outer {
		if op, ok := s.ops[name]; ok {
			return op, true
		}
	}
	return nil, false
}

// compiler turns one SELECT into an operator graph.
type compiler struct {
	r       *Registry
	args    []any
	created []Operator
}

func (c *compiler) track(op Operator, err error) (Operator, error) {
	if err != nil {
		return nil, err
	}
	c.created = append(c.created, op)
	return op, nil
}

// discard releases the operators built along the way that nothing listens
// to, except keep. Children go first so their parents see the drop.
func (c *compiler) discard(keep Operator) {
	for i := len(c.created) - 1; i >= 0; i-- {
		op := c.created[i]
		if op == keep || op.Listeners() > 0 {
			continue
		}
		if r, ok := op.(interface{ release() }); ok {
			r.release()
		}
	}
	c.created = nil
}

// argsFor returns the prefix of the shared arguments that covers every
// placeholder used in nodes.
func (c *compiler) argsFor(nodes ...*pg_query.Node) []any {
	n := 0
	for _, m := range nodes {
		n = max(n, sqlparse.MaxParam(m))
	}
	return c.args[:min(n, len(c.args))]
}

func (c *compiler) selectStmt(ctx context.Context, sel *pg_query.SelectStmt, scope *cteScope) (Operator, error) {
	if sel == nil {
		return nil, unsupportedf("statement is not a SELECT")
	}
	if w := sel.GetWithClause(); w != nil {
		if w.GetRecursive() {
			return nil, unsupportedf("WITH RECURSIVE")
		}
		scope = &cteScope{outer: scope, ops: map[string]Operator{}}
		for _, n := range w.GetCtes() {
			cte := n.GetCommonTableExpr()
			if len(cte.GetAliascolnames()) > 0 {
				return nil, unsupportedf("column list on WITH query %s", cte.GetCtename())
			}
			op, err := c.selectStmt(ctx, cte.GetCtequery().GetSelectStmt(), scope)
			if err != nil {
				return nil, err
			}
			scope.ops[cte.GetCtename()] = op
		}
	}

	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		op, err := c.setOperation(ctx, sel, scope)
		if err != nil {
			return nil, err
		}
		return c.order(ctx, sel, op, "__set")
	}
	if len(sel.GetValuesLists()) > 0 || len(sel.GetFromClause()) == 0 {
		return c.constant(ctx, sel)
	}
	if err := checkShape(sel); err != nil {
		return nil, err
	}
	if len(sel.GetFromClause()) > 1 {
		return nil, unsupportedf("more than one FROM item")
	}

	op, alias, err := c.fromItem(ctx, sel.GetFromClause()[0], scope)
	if err != nil {
		return nil, err
	}
	if w := sel.GetWhereClause(); w != nil {
		pred, err := sqlparse.DeparseExpr(w)
		if err != nil {
			return nil, unsupportedf("WHERE clause: %v", err)
		}
		if op, err = c.track(NewWhere(ctx, op, alias, pred, c.argsFor(w)...)); err != nil {
			return nil, err
		}
	}
	if op, err = c.targets(ctx, sel, op, alias); err != nil {
		return nil, err
	}
	return c.order(ctx, sel, op, alias)
}

// checkShape rejects clauses no operator implements.
func checkShape(sel *pg_query.SelectStmt) error {
	switch {
	case len(sel.GetDistinctClause()) > 0:
		return unsupportedf("DISTINCT")
	case sel.GetHavingClause() != nil:
		return unsupportedf("HAVING")
	case len(sel.GetWindowClause()) > 0:
		return unsupportedf("WINDOW clause")
	case len(sel.GetLockingClause()) > 0:
		return unsupportedf("locking clause")
	case sel.GetIntoClause() != nil:
		return unsupportedf("SELECT INTO")
	case sel.GetGroupDistinct():
		return unsupportedf("GROUP BY DISTINCT")
	}
	var exprs []*pg_query.Node
	exprs = append(exprs, sel.GetTargetList()...)
	exprs = append(exprs, sel.GetWhereClause())
	exprs = append(exprs, sel.GetGroupClause()...)
	exprs = append(exprs, sel.GetSortClause()...)
	exprs = append(exprs, sel.GetLimitCount(), sel.GetLimitOffset())
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if sqlparse.HasSubLink(e) {
			return unsupportedf("subquery inside an expression")
		}
		if sqlparse.Contains(e, func(m proto.Message) bool {
			_, ok := m.(*pg_query.GroupingSet)
			return ok
		}) {
			return unsupportedf("grouping sets")
		}
	}
	return nil
}

func (c *compiler) setOperation(ctx context.Context, sel *pg_query.SelectStmt, scope *cteScope) (Operator, error) {
	switch sel.GetOp() {
	case pg_query.SetOperation_SETOP_EXCEPT:
		return nil, unsupportedf("EXCEPT")
	case pg_query.SetOperation_SETOP_INTERSECT:
		if sel.GetAll() {
			return nil, unsupportedf("INTERSECT ALL")
		}
	}
	left, err := c.selectStmt(ctx, sel.GetLarg(), scope)
	if err != nil {
		return nil, err
	}
	right, err := c.selectStmt(ctx, sel.GetRarg(), scope)
	if err != nil {
		return nil, err
	}
	if sel.GetOp() == pg_query.SetOperation_SETOP_UNION && sel.GetAll() {
		return c.track(NewUnionAll(ctx, left, right))
	}

	// visibility checks read the store after the change, which is only
	// sound when one side cannot observe the other side's event
	if shared := sharedTables(left, right); len(shared) > 0 {
		return nil, unsupportedf("set operation whose sides both read %s", strings.Join(shared, ", "))
	}
	if sel.GetOp() == pg_query.SetOperation_SETOP_UNION {
		return c.track(NewUnion(ctx, left, right))
	}
	return c.track(NewIntersect(ctx, left, right))
}

// baseTables collects the tables an operator graph reads.
func baseTables(op Operator, into map[string]bool) {
	if t, ok := op.(*Table); ok {
		into[t.Name()] = true
		return
	}
	for _, p := range op.Parents() {
		baseTables(p, into)
	}
}

func sharedTables(a, b Operator) []string {
	left, right := map[string]bool{}, map[string]bool{}
	baseTables(a, left)
	baseTables(b, right)
	var out []string
	for name := range left {
		if right[name] {
			out = append(out, name)
		}
	}
	return out
}

// constant evaluates a SELECT without FROM, or a VALUES list, once.
func (c *compiler) constant(ctx context.Context, sel *pg_query.SelectStmt) (Operator, error) {
	if sqlparse.HasSubLink(sel) {
		return nil, unsupportedf("subquery inside a constant query")
	}
	text, err := sqlparse.DeparseSelect(sel)
	if err != nil {
		return nil, unsupportedf("constant query: %v", err)
	}
	return c.track(newConstant(ctx, c.r.st, text, c.args[:min(sqlparse.MaxParam(sel), len(c.args))]))
}

func (c *compiler) fromItem(ctx context.Context, n *pg_query.Node, scope *cteScope) (Operator, string, error) {
	switch {
	case n.GetRangeVar() != nil:
		rv := n.GetRangeVar()
		alias := rv.GetRelname()
		if a := rv.GetAlias(); a != nil {
			if len(a.GetColnames()) > 0 {
				return nil, "", unsupportedf("column aliases on %s", alias)
			}
			alias = a.GetAliasname()
		}
		if rv.GetSchemaname() == "" {
			if op, ok := scope.lookup(rv.GetRelname()); ok {
				return op, alias, nil
			}
		}
		if !rv.GetInh() {
			return nil, "", unsupportedf("ONLY %s", rv.GetRelname())
		}
		t, err := c.r.table(ctx, rv.GetSchemaname(), rv.GetRelname())
		return t, alias, err

	case n.GetRangeSubselect() != nil:
		rs := n.GetRangeSubselect()
		if rs.GetLateral() {
			return nil, "", unsupportedf("LATERAL")
		}
		alias := "__sub"
		if a := rs.GetAlias(); a != nil {
			if len(a.GetColnames()) > 0 {
				return nil, "", unsupportedf("column aliases on subquery %s", a.GetAliasname())
			}
			alias = a.GetAliasname()
		}
		op, err := c.selectStmt(ctx, rs.GetSubquery().GetSelectStmt(), scope)
		return op, alias, err

	case n.GetJoinExpr() != nil:
		return nil, "", unsupportedf("JOIN")
	}
	return nil, "", unsupportedf("FROM item %s", fromItemKind(n))
}

func fromItemKind(n *pg_query.Node) string {
	switch {
	case n.GetRangeFunction() != nil:
		return "function"
	case n.GetRangeTableSample() != nil:
		return "TABLESAMPLE"
	}
	return "of unknown form"
}

// targets maps the select list onto Select or Aggregate.
func (c *compiler) targets(ctx context.Context, sel *pg_query.SelectStmt, op Operator, alias string) (Operator, error) {
	list, group := sel.GetTargetList(), sel.GetGroupClause()
	if sqlparse.IsStar(list) && len(group) == 0 {
		return op, nil
	}

	aggs := make([]bool, len(list))
	n := 0
	for i, t := range list {
		agg, err := c.classify(ctx, t.GetResTarget())
		if err != nil {
			return nil, err
		}
		aggs[i] = agg
		if agg {
			n++
		}
	}

	if n == 0 && len(group) == 0 {
		texts, err := deparseTargets(list)
		if err != nil {
			return nil, err
		}
		return c.track(NewSelect(ctx, op, alias, strings.Join(texts, ", "), c.argsFor(list...)...))
	}
	if n == 0 {
		return nil, unsupportedf("GROUP BY without aggregates")
	}

	groupBy := make([]string, len(group))
	for i, g := range group {
		text, err := sqlparse.DeparseExpr(g)
		if err != nil {
			return nil, unsupportedf("GROUP BY item: %v", err)
		}
		groupBy[i] = text
	}
	if len(list) < len(groupBy) {
		return nil, unsupportedf("GROUP BY expressions must lead the select list")
	}
	for i, g := range groupBy {
		rt := list[i].GetResTarget()
		if aggs[i] || rt.GetName() != "" {
			return nil, unsupportedf("GROUP BY expressions must lead the select list")
		}
		text, err := sqlparse.DeparseExpr(rt.GetVal())
		if err != nil || text != g {
			return nil, unsupportedf("GROUP BY expressions must lead the select list")
		}
	}
	if slices.Contains(aggs[len(groupBy):], false) {
		return nil, unsupportedf("plain columns mixed with aggregates")
	}
	exprs, err := deparseTargets(list[len(groupBy):])
	if err != nil {
		return nil, err
	}
	nodes := append(append([]*pg_query.Node{}, list...), group...)
	return c.track(NewAggregate(ctx, op, alias, exprs, groupBy, c.argsFor(nodes...)...))
}

func deparseTargets(list []*pg_query.Node) ([]string, error) {
	out := make([]string, len(list))
	for i, t := range list {
		text, err := sqlparse.DeparseTarget(t.GetResTarget())
		if err != nil {
			return nil, unsupportedf("select list: %v", err)
		}
		out[i] = text
	}
	return out, nil
}

// classify reports whether a select-list entry is a maintained aggregate
// call. Calls the engine cannot maintain make the query unsupported.
func (c *compiler) classify(ctx context.Context, rt *pg_query.ResTarget) (bool, error) {
	var calls []*pg_query.FuncCall
	sqlparse.Walk(rt, func(m proto.Message) bool {
		if fc, ok := m.(*pg_query.FuncCall); ok {
			calls = append(calls, fc)
		}
		return true
	})

	maintained := 0
	for _, fc := range calls {
		name := sqlparse.FuncName(fc)
		if fc.GetOver() != nil {
			return false, unsupportedf("window function %s", name)
		}
		if _, ok := aggNames[name]; ok {
			maintained++
			continue
		}
		traits, err := c.r.funcTraits(ctx, name)
		if err != nil {
			return false, err
		}
		switch {
		case traits.Aggregate:
			return false, unsupportedf("aggregate %s", name)
		case traits.SetReturning:
			return false, unsupportedf("set-returning function %s", name)
		}
	}
	if maintained == 0 {
		return false, nil
	}

	top := rt.GetVal().GetFuncCall()
	if top == nil || maintained > 1 {
		return false, unsupportedf("aggregate inside an expression")
	}
	if _, ok := aggNames[sqlparse.FuncName(top)]; !ok {
		return false, unsupportedf("aggregate inside an expression")
	}
	switch {
	case top.GetAggDistinct():
		return false, unsupportedf("DISTINCT aggregate")
	case top.GetAggFilter() != nil:
		return false, unsupportedf("aggregate FILTER")
	case len(top.GetAggOrder()) > 0, top.GetAggWithinGroup():
		return false, unsupportedf("ordered aggregate")
	case !top.GetAggStar() && len(top.GetArgs()) != 1:
		return false, unsupportedf("aggregate %s with %d arguments", sqlparse.FuncName(top), len(top.GetArgs()))
	}
	return true, nil
}

// order wraps op in an Order when the statement sorts or limits.
func (c *compiler) order(ctx context.Context, sel *pg_query.SelectStmt, op Operator, alias string) (Operator, error) {
	sorts := sel.GetSortClause()
	if len(sorts) == 0 && sel.GetLimitCount() == nil && sel.GetLimitOffset() == nil {
		return op, nil
	}
	if sel.GetLimitOption() == pg_query.LimitOption_LIMIT_OPTION_WITH_TIES {
		return nil, unsupportedf("FETCH ... WITH TIES")
	}
	terms := make([]string, len(sorts))
	for i, n := range sorts {
		sb := n.GetSortBy()
		if sb.GetSortbyDir() == pg_query.SortByDir_SORTBY_USING {
			return nil, unsupportedf("ORDER BY ... USING")
		}
		text, err := c.sortKey(sb.GetNode(), op, alias)
		if err != nil {
			return nil, err
		}
		switch sb.GetSortbyDir() {
		case pg_query.SortByDir_SORTBY_ASC:
			text += " ASC"
		case pg_query.SortByDir_SORTBY_DESC:
			text += " DESC"
		}
		switch sb.GetSortbyNulls() {
		case pg_query.SortByNulls_SORTBY_NULLS_FIRST:
			text += " NULLS FIRST"
		case pg_query.SortByNulls_SORTBY_NULLS_LAST:
			text += " NULLS LAST"
		}
		terms[i] = text
	}
	limit, err := c.bound(sel.GetLimitCount(), NoLimit)
	if err != nil {
		return nil, err
	}
	offset, err := c.bound(sel.GetLimitOffset(), 0)
	if err != nil {
		return nil, err
	}
	if limit < NoLimit || offset < 0 {
		return nil, structuralf("order", nil, "LIMIT and OFFSET must not be negative")
	}
	return c.track(NewOrder(ctx, op, alias, terms, limit, offset, c.argsFor(sorts...)...))
}

// sortKey renders one ORDER BY expression. A position names the output
// column, since the comparison queries select other columns.
func (c *compiler) sortKey(n *pg_query.Node, op Operator, alias string) (string, error) {
	if k := n.GetAConst(); k != nil && k.GetIval() != nil {
		pos := int(k.GetIval().GetIval())
		cols := op.Columns()
		if pos < 1 || pos > len(cols) {
			return "", unsupportedf("ORDER BY position %d", pos)
		}
		return quote(alias) + "." + quote(cols[pos-1].Name), nil
	}
	text, err := sqlparse.DeparseExpr(n)
	if err != nil {
		return "", unsupportedf("ORDER BY item: %v", err)
	}
	return text, nil
}

// bound reads a LIMIT or OFFSET given as a constant or a placeholder.
// NULL yields def.
func (c *compiler) bound(n *pg_query.Node, def int) (int, error) {
	if n == nil {
		return def, nil
	}
	if k := n.GetAConst(); k != nil {
		switch {
		case k.GetIsnull():
			return def, nil
		case k.GetIval() != nil:
			v := int(k.GetIval().GetIval())
			if v < 0 {
				return 0, structuralf("order", nil, "LIMIT and OFFSET must not be negative")
			}
			return v, nil
		}
	}
	if p := n.GetParamRef(); p != nil {
		i := int(p.GetNumber()) - 1
		if i < 0 || i >= len(c.args) {
			return 0, structuralf("order", nil, "no argument for $%d", i+1)
		}
		v, err := store.FromArg(c.args[i])
		if err != nil {
			return 0, structuralf("order", err, "argument $%d", i+1)
		}
		if v.IsNull() {
			return def, nil
		}
		d, ok := v.Decimal()
		if !ok || !d.IsInteger() || d.IsNegative() {
			return 0, structuralf("order", nil, "argument $%d is not a row count: %s", i+1, v)
		}
		return int(d.IntPart()), nil
	}
	return 0, unsupportedf("LIMIT or OFFSET expression")
}
