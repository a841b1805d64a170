package reactive

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/sqlparse"
	"github.com/zoravur/pglive/internal/store"
)

// Registry is the entry point of the engine. It owns one Table adapter
// per base table and a cache of compiled queries. A Registry is not safe
// for concurrent use; callers serialize access.
type Registry struct {
	st     *store.Store
	tables map[string]*Table // by resolved schema.name
	names  map[string]*Table // by name as written
	funcs  map[string]store.FuncTraits
	cache  *Cache
	log    *zap.Logger
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func NewRegistry(st *store.Store, opts ...Option) *Registry {
	r := &Registry{
		st:     st,
		tables: map[string]*Table{},
		names:  map[string]*Table{},
		funcs:  map[string]store.FuncTraits{},
		cache:  NewCache(),
		log:    zap.L().Named("registry"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Store() *store.Store { return r.st }

func (r *Registry) Cache() *Cache { return r.cache }

// Table returns the adapter for name, which may be schema qualified.
func (r *Registry) Table(ctx context.Context, name string) (*Table, error) {
	schema, table := "", name
	if s, t, ok := splitQualified(name); ok {
		schema, table = s, t
	}
	return r.table(ctx, schema, table)
}

func splitQualified(name string) (string, string, bool) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}

func (r *Registry) table(ctx context.Context, schema, name string) (*Table, error) {
	written := sqlparse.Qualify(schema, name)
	if t, ok := r.names[written]; ok {
		return t, nil
	}
	info, err := r.st.LookupTable(ctx, schema, name)
	if errors.Is(err, store.ErrNoSuchTable) {
		return nil, structuralf("registry", err, "unknown table %s", written)
	}
	if err != nil {
		return nil, execErr("registry", err)
	}
	resolved := sqlparse.Qualify(info.Schema, info.Name)
	t, ok := r.tables[resolved]
	if !ok {
		if t, err = newTable(ctx, r.st, info); err != nil {
			return nil, err
		}
		r.tables[resolved] = t
		r.log.Info("table attached", zap.String("table", resolved))
	}
	r.names[written] = t
	return t, nil
}

// Tables lists the adapters created so far.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	return out
}

func (r *Registry) funcTraits(ctx context.Context, name string) (store.FuncTraits, error) {
	if f, ok := r.funcs[name]; ok {
		return f, nil
	}
	f, err := r.st.LookupFunc(ctx, name)
	if err != nil {
		return f, execErr("registry", err)
	}
	r.funcs[name] = f
	return f, nil
}

// Exec runs one statement. INSERT, UPDATE and DELETE go through the
// target table's adapter and return a nil operator; SELECT is compiled
// as by Query.
func (r *Registry) Exec(ctx context.Context, sql string, args ...any) (Operator, error) {
	stmt, err := sqlparse.ParseOne(sql)
	if err != nil {
		return nil, structuralf("registry", err, "cannot parse statement")
	}
	switch stmt.Kind {
	case sqlparse.KindSelect:
		return r.query(ctx, stmt, args)
	case sqlparse.KindInsert, sqlparse.KindUpdate, sqlparse.KindDelete:
		t, err := r.table(ctx, stmt.Schema, stmt.Table)
		if err != nil {
			return nil, err
		}
		return nil, t.exec(ctx, stmt, args)
	}
	return nil, structuralf("registry", nil, "%s statements are not supported", stmt.Kind)
}

// Query compiles a SELECT into a live operator, or returns the cached one
// for the same text and arguments. Shapes the compiler does not handle
// are served by a Fallback.
func (r *Registry) Query(ctx context.Context, sql string, args ...any) (Operator, error) {
	stmt, err := sqlparse.ParseOne(sql)
	if err != nil {
		return nil, structuralf("registry", err, "cannot parse query")
	}
	if stmt.Kind != sqlparse.KindSelect {
		return nil, structuralf("registry", nil, "expected SELECT, got %s", stmt.Kind)
	}
	return r.query(ctx, stmt, args)
}

func (r *Registry) query(ctx context.Context, stmt *sqlparse.Statement, args []any) (Operator, error) {
	canonical, err := sqlparse.DeparseNode(stmt.Node)
	if err != nil {
		return nil, structuralf("registry", err, "cannot normalize query")
	}
	key := cacheKey(canonical, args)
	if op, ok := r.cache.Get(key); ok {
		return op, nil
	}

	c := &compiler{r: r, args: args}
	op, err := c.selectStmt(ctx, stmt.Select(), nil)
	if err != nil {
		c.discard(nil)
	} else {
		c.discard(op)
	}
	if IsUnsupported(err) || IsExecution(err) {
		r.log.Debug("compiling fallback", zap.String("sql", canonical), zap.Error(err))
		op, err = r.fallback(ctx, stmt, canonical, args)
	}
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, op)
	return op, nil
}

// Release detaches op when nothing listens to it, which also drops it from
// the cache. Tables stay attached.
func (r *Registry) Release(op Operator) {
	if op.Listeners() > 0 {
		return
	}
	if _, ok := op.(*Table); ok {
		return
	}
	if b, ok := op.(interface{ release() }); ok {
		b.release()
	}
}

func (r *Registry) fallback(ctx context.Context, stmt *sqlparse.Statement, sql string, args []any) (Operator, error) {
	var tables []*Table
	for _, ref := range sqlparse.Tables(stmt.Tree) {
		t, err := r.table(ctx, ref.Schema, ref.Name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return NewFallback(ctx, r.st, sql, args, tables...)
}

// Scalar follows the first value of query, whose arguments are the
// current values of params. A change of any param recompiles the query.
func (r *Registry) Scalar(ctx context.Context, query string, params ...Source) (*DerivedSignal2, error) {
	choose := func(ctx context.Context) (Source, error) {
		args := make([]any, len(params))
		for i, p := range params {
			args[i] = p.Value().Arg()
		}
		op, err := r.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return NewOneValue(ctx, op)
	}
	return NewDerivedSignal2(ctx, choose, params...)
}
