package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store runs every query of the engine against one session.
type Store struct {
	q   Querier
	log *zap.Logger
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

func New(q Querier, opts ...Option) *Store {
	s := &Store{q: q, log: zap.L().Named("store")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects with the given driver ("pgx" or "postgres") and pins the
// pool to a single connection so all side-queries share one session.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Result is a fully read result set.
type Result struct {
	Columns []Column
	Rows    []Row
}

// Query runs query and reads every row before returning, so the pool's
// single connection is free again for nested side-queries.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	s.log.Debug("query", zap.String("sql", query), zap.Int("args", len(args)))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	res := &Result{Columns: make([]Column, len(types))}
	for i, ct := range types {
		res.Columns[i] = Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	dest := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{SQL: query, Err: err}
		}
		row := make(Row, len(dest))
		for i, raw := range dest {
			v, err := FromDriver(raw, res.Columns[i].Type)
			if err != nil {
				return nil, &QueryError{SQL: query, Err: fmt.Errorf("column %q: %w", res.Columns[i].Name, err)}
			}
			row[i] = v
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return res, nil
}

func (s *Store) Rows(ctx context.Context, query string, args ...any) ([]Row, error) {
	res, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Scalar returns the first column of the first row, or NULL when the
// result is empty.
func (s *Store) Scalar(ctx context.Context, query string, args ...any) (Value, error) {
	rows, err := s.Rows(ctx, query, args...)
	if err != nil {
		return Value{}, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Null(), nil
	}
	return rows[0][0], nil
}

// Describe returns the result columns of query without reading rows.
func (s *Store) Describe(ctx context.Context, query string, args ...any) ([]Column, error) {
	res, err := s.Query(ctx, "SELECT * FROM ("+query+") AS __describe LIMIT 0", args...)
	if err != nil {
		return nil, err
	}
	return res.Columns, nil
}

func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	s.log.Debug("exec", zap.String("sql", query), zap.Int("args", len(args)))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &QueryError{SQL: query, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// QueryError carries the failing statement alongside the driver error.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v (sql: %s)", e.Err, abbreviate(e.SQL))
}

func (e *QueryError) Unwrap() error { return e.Err }

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 240 {
		return s[:240] + "..."
	}
	return s
}

// SQLState extracts the SQLSTATE code from either driver's error type.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsConstraintViolation reports SQLSTATE class 23 errors.
func IsConstraintViolation(err error) bool {
	return strings.HasPrefix(SQLState(err), "23")
}

// QuoteIdent quotes a possibly schema-qualified name part by part.
func QuoteIdent(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, pq.QuoteIdentifier(p))
	}
	return strings.Join(quoted, ".")
}
