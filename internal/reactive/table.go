package reactive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/logutil"
	"github.com/zoravur/pglive/internal/sqlparse"
	"github.com/zoravur/pglive/internal/store"
)

// Table adapts DML statements on one base table into row events. Tables
// are owned by a Registry and are never released.
type Table struct {
	*base
	info *store.TableInfo
}

// NewTable resolves schema.name (schema may be empty) and reads its
// columns and unique keys.
func NewTable(ctx context.Context, st *store.Store, schema, name string) (*Table, error) {
	info, err := st.LookupTable(ctx, schema, name)
	if errors.Is(err, store.ErrNoSuchTable) {
		return nil, structuralf("table", err, "unknown table %s", sqlparse.Qualify(schema, name))
	}
	if err != nil {
		return nil, execErr("table", err)
	}
	return newTable(ctx, st, info)
}

func newTable(ctx context.Context, st *store.Store, info *store.TableInfo) (*Table, error) {
	t := &Table{base: newBase("table", st), info: info}
	t.onEmpty = nil
	t.sql = "SELECT * FROM " + info.Qualified()
	if err := t.describe(ctx); err != nil {
		return nil, err
	}
	t.unique = info.BestKey()
	t.log = t.log.With(zap.String("table", t.Name()))
	t.log.Debug("table adapter ready", logutil.Values(
		zap.Strings("columns", store.ColumnNames(t.cols)),
		zap.Strings("key", t.unique),
	))
	t.live()
	return t, nil
}

// Name returns schema.table unquoted.
func (t *Table) Name() string { return sqlparse.Qualify(t.info.Schema, t.info.Name) }

func (t *Table) Info() *store.TableInfo { return t.info }

// Exec dispatches an INSERT, UPDATE or DELETE aimed at this table.
func (t *Table) Exec(ctx context.Context, stmt string, args ...any) error {
	st, err := sqlparse.ParseOne(stmt)
	if err != nil {
		return structuralf("table", err, "cannot parse statement")
	}
	return t.exec(ctx, st, args)
}

func (t *Table) Insert(ctx context.Context, stmt string, args ...any) error {
	return t.execKind(ctx, sqlparse.KindInsert, stmt, args)
}

func (t *Table) Update(ctx context.Context, stmt string, args ...any) error {
	return t.execKind(ctx, sqlparse.KindUpdate, stmt, args)
}

func (t *Table) Delete(ctx context.Context, stmt string, args ...any) error {
	return t.execKind(ctx, sqlparse.KindDelete, stmt, args)
}

func (t *Table) execKind(ctx context.Context, kind sqlparse.StatementKind, stmt string, args []any) error {
	st, err := sqlparse.ParseOne(stmt)
	if err != nil {
		return structuralf("table", err, "cannot parse statement")
	}
	if st.Kind != kind {
		return structuralf("table", nil, "expected %s statement, got %s", kind, st.Kind)
	}
	return t.exec(ctx, st, args)
}

func (t *Table) exec(ctx context.Context, st *sqlparse.Statement, args []any) error {
	if !t.targets(st) {
		return structuralf("table", nil, "statement targets %s, not %s", st.QualifiedTable(), t.Name())
	}
	switch st.Kind {
	case sqlparse.KindInsert:
		return t.insert(ctx, st, args)
	case sqlparse.KindUpdate:
		return t.update(ctx, st, args)
	case sqlparse.KindDelete:
		return t.delete(ctx, st, args)
	}
	return structuralf("table", nil, "%s is not a DML statement", st.Kind)
}

func (t *Table) targets(st *sqlparse.Statement) bool {
	if st.Table != t.info.Name {
		return false
	}
	return st.Schema == "" || st.Schema == t.info.Schema
}

func (t *Table) insert(ctx context.Context, st *sqlparse.Statement, args []any) error {
	ins, err := st.Insert()
	if err != nil {
		return structuralf("table", err, "cannot rewrite INSERT")
	}
	rows, err := t.st.Rows(ctx, ins.SQL, args...)
	if err != nil {
		return execErr("table", err)
	}
	for _, r := range rows {
		if err := t.emit(ctx, Insert(r)); err != nil {
			return err
		}
	}
	return nil
}

// delete removes one matching row per statement until none is left, so
// listeners see every row deleted against the store state it left behind.
func (t *Table) delete(ctx context.Context, st *sqlparse.Statement, args []any) error {
	del, err := st.Delete()
	if err != nil {
		return structuralf("table", err, "cannot decompose DELETE")
	}
	ref := quote(del.Ref)
	from := t.info.Qualified() + " AS " + ref
	q := fmt.Sprintf("DELETE FROM %s WHERE %s.ctid = (SELECT %s.ctid FROM %s%s LIMIT 1) RETURNING *",
		from, ref, ref, from, whereClause(del.Where))

	for {
		rows, err := t.st.Rows(ctx, q, args...)
		if err != nil {
			return execErr("table", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := t.emit(ctx, Delete(rows[0])); err != nil {
			return err
		}
	}
}

// update selects the matching rows, then updates each one by location and
// full pre-image so a row changed behind our back is detected. Both queries
// mention every placeholder of the statement: the first evaluates the SET
// expressions, the second repeats the condition.
func (t *Table) update(ctx context.Context, st *sqlparse.Statement, args []any) error {
	up, err := st.Update()
	if err != nil {
		return structuralf("table", err, "cannot decompose UPDATE")
	}
	ref := quote(up.Ref)
	from := t.info.Qualified() + " AS " + ref

	list := []string{ref + ".ctid::text", ref + ".*"}
	if len(args) > 0 {
		list = append(list, t.setExprs(up.Sets)...)
	}
	matches, err := t.st.Rows(ctx,
		fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(list, ", "), from, whereClause(up.Where)),
		args...)
	if err != nil {
		return execErr("table", err)
	}

	qualified := make([]string, len(t.cols))
	for i, c := range t.cols {
		qualified[i] = ref + "." + quote(c.Name)
	}
	n := len(args)
	q := fmt.Sprintf("%s WHERE %s.ctid = $%d::tid AND %s",
		up.Head, ref, n+1, sameRowSQL(qualified, t.cols, n+2))
	if n > 0 && up.Where != "" {
		q += " AND (" + up.Where + ")"
	}
	q += " RETURNING *"

	for _, m := range matches {
		ctid, old := m[0].AsText(), store.Row(m[1:1+len(t.cols)])
		params := append(append(append([]any{}, args...), ctid), old.Args()...)
		rows, err := t.st.Rows(ctx, q, params...)
		if err != nil {
			return execErr("table", err)
		}
		if len(rows) == 0 {
			return consistencyf("table", "row %s at %s no longer matches its pre-image", old, ctid)
		}
		if rows[0].Equal(old) {
			t.log.Debug("row unchanged", logutil.Row("row", old))
			continue
		}
		if err := t.emit(ctx, Update(old, rows[0])); err != nil {
			return err
		}
	}
	return nil
}

// setExprs renders SET expressions cast to their column's type.
func (t *Table) setExprs(sets []sqlparse.Assignment) []string {
	out := make([]string, 0, len(sets))
	for _, a := range sets {
		expr := "(" + a.Expr + ")"
		for _, c := range t.cols {
			if c.Name == a.Column && c.Type != "" {
				expr = fmt.Sprintf("CAST(%s AS %s)", expr, c.Type)
				break
			}
		}
		out = append(out, expr)
	}
	return out
}

func whereClause(cond string) string {
	if cond == "" {
		return ""
	}
	return " WHERE " + cond
}
