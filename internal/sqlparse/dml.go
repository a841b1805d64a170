package sqlparse

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Insert is an INSERT rewritten to return every inserted row.
type Insert struct {
	Schema string
	Table  string
	SQL    string
}

// Update splits an UPDATE into the parts needed to replay it row by row.
type Update struct {
	Schema string
	Table  string
	// Ref is how the target is referenced in clauses: its alias or name.
	Ref string
	// Head is the statement up to and including the SET list.
	Head string
	// Where is the deparsed WHERE condition, empty when absent.
	Where string
	// Sets lists the assigned columns with their deparsed expressions.
	// Assignments of DEFAULT are left out.
	Sets []Assignment
}

// Assignment is one `column = expr` of a SET list.
type Assignment struct {
	Column string
	Expr   string
}

// Delete carries the target and condition of a DELETE.
type Delete struct {
	Schema string
	Table  string
	Ref    string
	Where  string
}

// ParseInsert parses an INSERT and forces RETURNING *.
func ParseInsert(sql string) (*Insert, error) {
	st, err := ParseOne(sql)
	if err != nil {
		return nil, err
	}
	return st.Insert()
}

func (s *Statement) Insert() (*Insert, error) {
	ins := s.Node.GetInsertStmt()
	if ins == nil {
		return nil, fmt.Errorf("expected INSERT, got %s", s.Kind)
	}
	// RETURNING cannot tell an updated row from an inserted one
	if oc := ins.GetOnConflictClause(); oc != nil && oc.GetAction() == pg_query.OnConflictAction_ONCONFLICT_UPDATE {
		return nil, fmt.Errorf("ON CONFLICT DO UPDATE is not supported")
	}
	ins.ReturningList = []*pg_query.Node{starTarget()}
	out, err := DeparseNode(s.Node)
	if err != nil {
		return nil, err
	}
	return &Insert{Schema: s.Schema, Table: s.Table, SQL: out}, nil
}

// ParseUpdate parses a single-table UPDATE.
func ParseUpdate(sql string) (*Update, error) {
	st, err := ParseOne(sql)
	if err != nil {
		return nil, err
	}
	return st.Update()
}

func (s *Statement) Update() (*Update, error) {
	up := s.Node.GetUpdateStmt()
	if up == nil {
		return nil, fmt.Errorf("expected UPDATE, got %s", s.Kind)
	}
	switch {
	case len(up.GetFromClause()) > 0:
		return nil, fmt.Errorf("UPDATE ... FROM: %w", ErrUnsupported)
	case up.GetWithClause() != nil:
		return nil, fmt.Errorf("WITH ... UPDATE: %w", ErrUnsupported)
	case up.GetWhereClause().GetCurrentOfExpr() != nil:
		return nil, fmt.Errorf("WHERE CURRENT OF: %w", ErrUnsupported)
	}
	var sets []Assignment
	for _, t := range up.GetTargetList() {
		rt := t.GetResTarget()
		switch {
		case rt.GetVal().GetMultiAssignRef() != nil:
			return nil, fmt.Errorf("multi-column SET: %w", ErrUnsupported)
		case len(rt.GetIndirection()) > 0:
			return nil, fmt.Errorf("SET on a field or element: %w", ErrUnsupported)
		case rt.GetVal().GetSetToDefault() != nil:
			continue
		}
		expr, err := DeparseExpr(rt.GetVal())
		if err != nil {
			return nil, err
		}
		sets = append(sets, Assignment{Column: rt.GetName(), Expr: expr})
	}

	where, err := deparseWhere(up.GetWhereClause())
	if err != nil {
		return nil, err
	}

	head := &pg_query.UpdateStmt{
		Relation:   up.GetRelation(),
		TargetList: up.GetTargetList(),
	}
	text, err := DeparseNode(&pg_query.Node{Node: &pg_query.Node_UpdateStmt{UpdateStmt: head}})
	if err != nil {
		return nil, err
	}
	return &Update{
		Schema: s.Schema,
		Table:  s.Table,
		Ref:    refName(up.GetRelation()),
		Head:   text,
		Where:  where,
		Sets:   sets,
	}, nil
}

// ParseDelete parses a single-table DELETE.
func ParseDelete(sql string) (*Delete, error) {
	st, err := ParseOne(sql)
	if err != nil {
		return nil, err
	}
	return st.Delete()
}

func (s *Statement) Delete() (*Delete, error) {
	del := s.Node.GetDeleteStmt()
	if del == nil {
		return nil, fmt.Errorf("expected DELETE, got %s", s.Kind)
	}
	switch {
	case len(del.GetUsingClause()) > 0:
		return nil, fmt.Errorf("DELETE ... USING: %w", ErrUnsupported)
	case del.GetWithClause() != nil:
		return nil, fmt.Errorf("WITH ... DELETE: %w", ErrUnsupported)
	case del.GetWhereClause().GetCurrentOfExpr() != nil:
		return nil, fmt.Errorf("WHERE CURRENT OF: %w", ErrUnsupported)
	}
	where, err := deparseWhere(del.GetWhereClause())
	if err != nil {
		return nil, err
	}
	return &Delete{
		Schema: s.Schema,
		Table:  s.Table,
		Ref:    refName(del.GetRelation()),
		Where:  where,
	}, nil
}

func deparseWhere(n *pg_query.Node) (string, error) {
	if n == nil {
		return "", nil
	}
	return DeparseExpr(n)
}
