package reactive

import (
	"context"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/logutil"
	"github.com/zoravur/pglive/internal/metrics"
	"github.com/zoravur/pglive/internal/store"
)

// Fallback keeps any query correct by running it again after every event
// of a base table it reads, emitting the multiset difference.
type Fallback struct {
	*base
	rows []store.Row
}

func NewFallback(ctx context.Context, st *store.Store, sql string, args []any, tables ...*Table) (*Fallback, error) {
	f := &Fallback{base: newBase("fallback", st)}
	f.sql = sql
	f.args = args
	if err := f.describe(ctx); err != nil {
		return nil, err
	}
	rows, err := f.refetch(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	f.rows = rows
	for _, t := range tables {
		f.attach(t, f.onTable)
	}
	f.live()
	metrics.IncFallbacks()
	f.log.Debug("fallback attached", zap.Int("tables", len(tables)), zap.String("sql", sql))
	return f, nil
}

func (f *Fallback) Rows() []store.Row { return f.rows }

func (f *Fallback) onTable(ctx context.Context, _ Event) error {
	rows, err := f.refetch(ctx, f.sql, f.args...)
	if err != nil {
		return err
	}
	prev := f.rows
	f.rows = rows
	f.log.Debug("requeried", logutil.Rows("rows", rows, 5))
	for _, ev := range bagDiff(prev, rows) {
		if err := f.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
