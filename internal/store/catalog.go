package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSuchTable is returned by LookupTable for unknown relations.
var ErrNoSuchTable = errors.New("no such table")

// TableInfo is what the engine needs to know about a base table.
type TableInfo struct {
	Schema     string     `json:"schema"`
	Name       string     `json:"name"`
	Columns    []Column   `json:"columns"`
	PrimaryKey []string   `json:"primaryKey,omitempty"`
	UniqueKeys [][]string `json:"uniqueKeys,omitempty"`
}

// Qualified returns the quoted schema.name of the table.
func (t *TableInfo) Qualified() string { return QuoteIdent(t.Schema, t.Name) }

// BestKey returns the primary key, else the narrowest unique key, else nil.
// Unique keys only cover NOT NULL columns, so any key orders rows totally.
func (t *TableInfo) BestKey() []string {
	if len(t.PrimaryKey) > 0 {
		return t.PrimaryKey
	}
	var best []string
	for _, k := range t.UniqueKeys {
		if best == nil || len(k) < len(best) {
			best = k
		}
	}
	return best
}

const tableSQL = `
SELECT n.nspname::text, c.relname::text
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.oid = to_regclass($1)`

const columnsSQL = `
SELECT a.attname::text, upper(t.typname)::text
FROM pg_attribute a
JOIN pg_type t ON t.oid = a.atttypid
WHERE a.attrelid = to_regclass($1)
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

// one row per (index, key column); expression indexes are skipped, and so
// are indexes over nullable columns since NULLs do not collide
const keysSQL = `
SELECT i.indexrelid::int8, i.indisprimary, a.attname::text
FROM pg_index i
CROSS JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
WHERE i.indrelid = to_regclass($1)
  AND i.indisunique
  AND i.indpred IS NULL
  AND i.indexprs IS NULL
  AND NOT EXISTS (
    SELECT 1
    FROM unnest(i.indkey) AS n(attnum)
    JOIN pg_attribute na ON na.attrelid = i.indrelid AND na.attnum = n.attnum
    WHERE NOT na.attnotnull
  )
ORDER BY i.indisprimary DESC, i.indexrelid, k.ord`

// LookupTable reads columns and unique keys of a table. name is resolved
// through the session's search_path unless it is schema qualified.
func (s *Store) LookupTable(ctx context.Context, schema, name string) (*TableInfo, error) {
	reg := QuoteIdent(schema, name)

	rows, err := s.Rows(ctx, tableSQL, reg)
	if err != nil {
		return nil, fmt.Errorf("lookup table %s: %w", reg, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, reg)
	}
	info := &TableInfo{Schema: rows[0][0].AsText(), Name: rows[0][1].AsText()}

	cols, err := s.Rows(ctx, columnsSQL, reg)
	if err != nil {
		return nil, fmt.Errorf("lookup columns of %s: %w", reg, err)
	}
	for _, r := range cols {
		info.Columns = append(info.Columns, Column{Name: r[0].AsText(), Type: r[1].AsText()})
	}

	keys, err := s.Rows(ctx, keysSQL, reg)
	if err != nil {
		return nil, fmt.Errorf("lookup keys of %s: %w", reg, err)
	}
	var cur []string
	var curID int64 = -1
	var curPK bool
	flush := func() {
		if len(cur) == 0 {
			return
		}
		if curPK {
			info.PrimaryKey = cur
		} else {
			info.UniqueKeys = append(info.UniqueKeys, cur)
		}
	}
	for _, r := range keys {
		id := r[0].AsInt()
		if id != curID {
			flush()
			cur, curID, curPK = nil, id, r[1].AsBool()
		}
		cur = append(cur, r[2].AsText())
	}
	flush()
	return info, nil
}

// FuncTraits describes how a function name behaves in a select list.
type FuncTraits struct {
	Known        bool
	Aggregate    bool
	SetReturning bool
}

const funcSQL = `
SELECT count(*) > 0,
       coalesce(bool_or(p.prokind IN ('a', 'w')), false),
       coalesce(bool_or(p.proretset), false)
FROM pg_proc p
WHERE p.proname = $1`

// LookupFunc reports the traits of any function overload named name.
func (s *Store) LookupFunc(ctx context.Context, name string) (FuncTraits, error) {
	rows, err := s.Rows(ctx, funcSQL, name)
	if err != nil {
		return FuncTraits{}, fmt.Errorf("lookup function %s: %w", name, err)
	}
	if len(rows) != 1 {
		return FuncTraits{}, fmt.Errorf("lookup function %s: %d rows", name, len(rows))
	}
	r := rows[0]
	return FuncTraits{Known: r[0].AsBool(), Aggregate: r[1].AsBool(), SetReturning: r[2].AsBool()}, nil
}
