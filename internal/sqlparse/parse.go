// Package sqlparse wraps the PostgreSQL parser (pg_query) with the few
// tree operations the engine needs: statement classification, DML
// decomposition, expression deparsing and table discovery.
package sqlparse

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrUnsupported marks statements that parse but use a form the engine
// cannot decompose.
var ErrUnsupported = errors.New("unsupported statement form")

type StatementKind int

const (
	KindOther StatementKind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
)

func (k StatementKind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	}
	return "OTHER"
}

// Statement is a single parsed statement.
type Statement struct {
	Kind StatementKind
	Tree *pg_query.ParseResult
	Node *pg_query.Node

	// target relation for DML
	Schema string
	Table  string
}

// Select returns the statement's SelectStmt, or nil.
func (s *Statement) Select() *pg_query.SelectStmt { return s.Node.GetSelectStmt() }

// ParseOne parses sql and requires exactly one statement.
func ParseOne(sql string) (*Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return nil, fmt.Errorf("parse: expected one statement, got %d", len(stmts))
	}
	n := stmts[0].GetStmt()
	st := &Statement{Tree: tree, Node: n}
	switch {
	case n.GetSelectStmt() != nil:
		st.Kind = KindSelect
	case n.GetInsertStmt() != nil:
		st.Kind = KindInsert
		st.Schema, st.Table = relName(n.GetInsertStmt().GetRelation())
	case n.GetUpdateStmt() != nil:
		st.Kind = KindUpdate
		st.Schema, st.Table = relName(n.GetUpdateStmt().GetRelation())
	case n.GetDeleteStmt() != nil:
		st.Kind = KindDelete
		st.Schema, st.Table = relName(n.GetDeleteStmt().GetRelation())
	}
	return st, nil
}

// QualifiedTable returns "schema.table" or "table".
func (s *Statement) QualifiedTable() string {
	return Qualify(s.Schema, s.Table)
}

func Qualify(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

func relName(rv *pg_query.RangeVar) (schema, table string) {
	if rv == nil {
		return "", ""
	}
	return rv.GetSchemaname(), rv.GetRelname()
}

// refName is how a statement's target relation is referenced in clauses.
func refName(rv *pg_query.RangeVar) string {
	if a := rv.GetAlias(); a != nil && a.GetAliasname() != "" {
		return a.GetAliasname()
	}
	return rv.GetRelname()
}

// Canonical reformats sql through a parse/deparse round trip, so queries
// differing only in whitespace or keyword case compare equal.
func Canonical(sql string) (string, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("deparse: %w", err)
	}
	return out, nil
}

// DeparseNode renders a statement node back to SQL.
func DeparseNode(stmt *pg_query.Node) (string, error) {
	tree := &pg_query.ParseResult{Stmts: []*pg_query.RawStmt{{Stmt: stmt}}}
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("deparse: %w", err)
	}
	return out, nil
}

// DeparseSelect renders sel, which may be a subtree of a larger statement.
func DeparseSelect(sel *pg_query.SelectStmt) (string, error) {
	return DeparseNode(&pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}})
}

// DeparseExpr renders a single expression node.
func DeparseExpr(expr *pg_query.Node) (string, error) {
	sel := &pg_query.SelectStmt{
		TargetList:  []*pg_query.Node{node(&pg_query.ResTarget{Val: expr})},
		Op:          pg_query.SetOperation_SETOP_NONE,
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}
	out, err := DeparseSelect(sel)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, "SELECT ") {
		return "", fmt.Errorf("deparse: unexpected expression form %q", out)
	}
	return strings.TrimPrefix(out, "SELECT "), nil
}

// DeparseTarget renders one select-list entry including its alias.
func DeparseTarget(rt *pg_query.ResTarget) (string, error) {
	expr, err := DeparseExpr(rt.GetVal())
	if err != nil {
		return "", err
	}
	if rt.GetName() != "" {
		return expr + " AS " + quoteIdent(rt.GetName()), nil
	}
	return expr, nil
}

// ParseExpr parses a standalone scalar expression.
func ParseExpr(expr string) (*pg_query.Node, error) {
	tree, err := pg_query.Parse("SELECT " + expr)
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	sel := tree.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil || len(sel.GetTargetList()) != 1 || len(sel.GetFromClause()) > 0 {
		return nil, fmt.Errorf("parse expression %q: %w", expr, ErrUnsupported)
	}
	return sel.GetTargetList()[0].GetResTarget().GetVal(), nil
}
