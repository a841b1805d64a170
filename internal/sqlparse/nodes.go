package sqlparse

import (
	"fmt"

	"github.com/lib/pq"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func quoteIdent(s string) string { return pq.QuoteIdentifier(s) }

func strNode(s string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_String_{
			String_: &pg_query.String{Sval: s},
		},
	}
}

func node(x any) *pg_query.Node {
	switch v := x.(type) {
	case *pg_query.ResTarget:
		return &pg_query.Node{Node: &pg_query.Node_ResTarget{ResTarget: v}}
	case *pg_query.ColumnRef:
		return &pg_query.Node{Node: &pg_query.Node_ColumnRef{ColumnRef: v}}
	case *pg_query.A_Star:
		return &pg_query.Node{Node: &pg_query.Node_AStar{AStar: v}}
	default:
		panic(fmt.Sprintf("unsupported node helper %T", x))
	}
}

// starTarget is the select-list entry `*`.
func starTarget() *pg_query.Node {
	return node(&pg_query.ResTarget{
		Val: node(&pg_query.ColumnRef{Fields: []*pg_query.Node{node(&pg_query.A_Star{})}}),
	})
}

// IsStar reports whether targets is exactly `*` or `alias.*`.
func IsStar(targets []*pg_query.Node) bool {
	if len(targets) != 1 {
		return false
	}
	rt := targets[0].GetResTarget()
	if rt == nil || rt.GetName() != "" {
		return false
	}
	cr := rt.GetVal().GetColumnRef()
	if cr == nil {
		return false
	}
	fields := cr.GetFields()
	return len(fields) > 0 && fields[len(fields)-1].GetAStar() != nil
}

// Walk visits every message in the tree depth first. Returning false from
// fn skips the message's children.
func Walk(m proto.Message, fn func(proto.Message) bool) {
	if m == nil {
		return
	}
	walk(m.ProtoReflect(), fn)
}

func walk(m protoreflect.Message, fn func(proto.Message) bool) {
	if !m.IsValid() {
		return
	}
	if !fn(m.Interface()) {
		return
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap():
		case fd.IsList():
			if fd.Kind() != protoreflect.MessageKind {
				return true
			}
			l := v.List()
			for i := 0; i < l.Len(); i++ {
				walk(l.Get(i).Message(), fn)
			}
		case fd.Kind() == protoreflect.MessageKind:
			walk(v.Message(), fn)
		}
		return true
	})
}

// Contains reports whether any message in the tree satisfies pred.
func Contains(m proto.Message, pred func(proto.Message) bool) bool {
	found := false
	Walk(m, func(x proto.Message) bool {
		if found {
			return false
		}
		if pred(x) {
			found = true
			return false
		}
		return true
	})
	return found
}

// HasSubLink reports whether expr contains a subquery.
func HasSubLink(m proto.Message) bool {
	return Contains(m, func(x proto.Message) bool {
		_, ok := x.(*pg_query.SubLink)
		return ok
	})
}

// FuncName returns the lower-cased unqualified name of a function call.
func FuncName(fc *pg_query.FuncCall) string {
	parts := fc.GetFuncname()
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1].GetString_().GetSval()
}

// TableRef is a base relation referenced by a query.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string { return Qualify(t.Schema, t.Name) }

// Tables lists the base relations a statement reads, skipping names bound
// by WITH clauses. Duplicates are removed; order is first appearance.
func Tables(m proto.Message) []TableRef {
	ctes := map[string]bool{}
	Walk(m, func(x proto.Message) bool {
		if cte, ok := x.(*pg_query.CommonTableExpr); ok {
			ctes[cte.GetCtename()] = true
		}
		return true
	})
	seen := map[string]bool{}
	var out []TableRef
	Walk(m, func(x proto.Message) bool {
		rv, ok := x.(*pg_query.RangeVar)
		if !ok {
			return true
		}
		if rv.GetSchemaname() == "" && ctes[rv.GetRelname()] {
			return true
		}
		ref := TableRef{Schema: rv.GetSchemaname(), Name: rv.GetRelname()}
		if !seen[ref.String()] {
			seen[ref.String()] = true
			out = append(out, ref)
		}
		return true
	})
	return out
}

// MaxParam returns the highest $n placeholder used in the tree, or 0.
func MaxParam(m proto.Message) int {
	n := 0
	Walk(m, func(x proto.Message) bool {
		if p, ok := x.(*pg_query.ParamRef); ok {
			n = max(n, int(p.GetNumber()))
		}
		return true
	})
	return n
}

// CompactParams renumbers the placeholders of sql so that only the ones it
// references among $1..$n remain, in order. keep maps each new placeholder
// to the zero-based index of the argument it takes. keep is nil when sql
// already references all of $1..$n, in which case sql is returned as is.
func CompactParams(sql string, n int) (string, []int, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return "", nil, fmt.Errorf("parse: %w", err)
	}
	var refs []*pg_query.ParamRef
	used := make([]bool, n+1)
	for _, raw := range tree.GetStmts() {
		Walk(raw.GetStmt(), func(x proto.Message) bool {
			if p, ok := x.(*pg_query.ParamRef); ok {
				refs = append(refs, p)
				if k := int(p.GetNumber()); k >= 1 && k <= n {
					used[k] = true
				}
			}
			return true
		})
	}

	renumber := make([]int32, n+1)
	keep := make([]int, 0, n)
	for k := 1; k <= n; k++ {
		if used[k] {
			keep = append(keep, k-1)
			renumber[k] = int32(len(keep))
		}
	}
	if len(keep) == n {
		return sql, nil, nil
	}
	for _, p := range refs {
		if k := int(p.GetNumber()); k >= 1 && k <= n {
			p.Number = renumber[k]
		}
	}
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", nil, fmt.Errorf("deparse: %w", err)
	}
	return out, keep, nil
}
