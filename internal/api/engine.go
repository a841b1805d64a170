package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/protocol"
	"github.com/zoravur/pglive/internal/reactive"
	"github.com/zoravur/pglive/internal/sqlparse"
	"github.com/zoravur/pglive/internal/store"
)

// Engine serializes access to the reactive registry. Every statement and
// every subscription change runs under one lock, so events are delivered
// in statement order.
type Engine struct {
	mu   sync.Mutex
	reg  *reactive.Registry
	subs *protocol.Registry
	log  *zap.Logger
}

func NewEngine(reg *reactive.Registry, log *zap.Logger) *Engine {
	return &Engine{reg: reg, subs: protocol.NewRegistry(), log: log}
}

// Subscriptions lists the live queries of every client.
func (e *Engine) Subscriptions() *protocol.Registry { return e.subs }

// ExecResult is returned by Exec. Only SELECT fills Columns and Rows.
type ExecResult struct {
	Columns []store.Column `json:"columns,omitempty"`
	Rows    []store.Row    `json:"rows,omitempty"`
}

// Exec runs one statement. A SELECT is answered straight from the store;
// DML goes through the table adapters and reaches every subscriber before
// Exec returns.
func (e *Engine) Exec(ctx context.Context, sql string, args ...any) (*ExecResult, error) {
	stmt, err := sqlparse.ParseOne(sql)
	if err != nil {
		return nil, &reactive.Error{Code: reactive.ErrCodeStructural, Op: "exec", Message: "cannot parse statement", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if stmt.Kind == sqlparse.KindSelect {
		res, err := e.reg.Store().Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		return &ExecResult{Columns: res.Columns, Rows: res.Rows}, nil
	}
	if _, err := e.reg.Exec(ctx, sql, args...); err != nil {
		return nil, err
	}
	return &ExecResult{}, nil
}

// Explain compiles query and renders its operator tree. A tree no client
// subscribes to is released afterwards.
func (e *Engine) Explain(ctx context.Context, sql string, args ...any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, err := e.reg.Query(ctx, sql, args...)
	if err != nil {
		return "", err
	}
	defer e.reg.Release(op)
	return reactive.Explain(op), nil
}

type liveQuery struct {
	op  reactive.Operator
	sub reactive.Subscription
}

// subscribe compiles msg for c, registers a listener forwarding events to
// the client and queues the initial result ahead of any event.
func (e *Engine) subscribe(ctx context.Context, c *client, msg protocol.Subscribe) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := c.live[msg.ID]; ok {
		return fmt.Errorf("subscription %q already exists", msg.ID)
	}
	op, err := e.reg.Query(ctx, msg.SQL, msg.Args...)
	if err != nil {
		return err
	}

	id := msg.ID
	sub := op.Subscribe(func(_ context.Context, ev reactive.Event) error {
		c.enqueue(protocol.NewEvent(id, ev))
		return nil
	})
	rows, err := snapshot(ctx, op)
	if err != nil {
		op.Unsubscribe(sub)
		return err
	}

	c.live[id] = liveQuery{op: op, sub: sub}
	e.subs.Add(&protocol.Subscription{
		ID:       id,
		ClientID: c.id,
		SQL:      msg.SQL,
		Args:     msg.Args,
		Operator: op.Kind(),
		Since:    time.Now(),
	})
	c.enqueue(protocol.Subscribed{
		Message: protocol.Message{Type: protocol.TypeSubscribed, ID: id},
		Columns: op.Columns(),
		Rows:    rows,
	})
	e.log.Info("subscribed",
		zap.String("client", c.id),
		zap.String("id", id),
		zap.String("operator", op.Kind()),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func snapshot(ctx context.Context, op reactive.Operator) ([]store.Row, error) {
	if m, ok := op.(reactive.Materialized); ok {
		return m.Rows(), nil
	}
	if op.Store() == nil {
		return nil, nil
	}
	return op.Store().Rows(ctx, op.SQL(), op.Args()...)
}

func (e *Engine) unsubscribe(c *client, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lq, ok := c.live[id]
	if !ok {
		return fmt.Errorf("unknown subscription %q", id)
	}
	delete(c.live, id)
	lq.op.Unsubscribe(lq.sub)
	e.subs.Remove(c.id, id)
	return nil
}

// drop releases every subscription of a disconnected client.
func (e *Engine) drop(c *client) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, lq := range c.live {
		lq.op.Unsubscribe(lq.sub)
		delete(c.live, id)
	}
	if n := e.subs.RemoveClient(c.id); n > 0 {
		e.log.Info("client subscriptions dropped", zap.String("client", c.id), zap.Int("count", n))
	}
}
