package reactive

import (
	"context"
	"fmt"

	"github.com/zoravur/pglive/internal/metrics"
	"github.com/zoravur/pglive/internal/store"
)

// OneValue exposes the first value of a single-column operator as a
// Source. It detaches from its parent once nobody listens to it.
type OneValue struct {
	Signal
	parent   Operator
	sub      Subscription
	query    string
	released bool
}

func NewOneValue(ctx context.Context, parent Operator) (*OneValue, error) {
	if n := len(parent.Columns()); n != 1 {
		return nil, structuralf("one_value", nil, "parent has %d columns, want 1", n)
	}
	if _, ok := parent.(Materialized); !ok && parent.Store() == nil {
		return nil, structuralf("one_value", nil, "parent %s has neither a store nor rows", parent.Kind())
	}
	v := &OneValue{
		parent: parent,
		query:  fmt.Sprintf("SELECT * FROM (%s) AS __v LIMIT 1", parent.SQL()),
	}
	val, err := v.read(ctx)
	if err != nil {
		return nil, err
	}
	v.value = val
	v.onEmpty = v.release
	v.sub = parent.Subscribe(v.onParent)
	metrics.OperatorAttached("one_value")
	return v, nil
}

// read takes the value from the parent's rows when it keeps them, and
// queries otherwise. An empty result reads as NULL.
func (v *OneValue) read(ctx context.Context) (store.Value, error) {
	var rows []store.Row
	if m, ok := v.parent.(Materialized); ok {
		rows = m.Rows()
	} else {
		metrics.IncRecomputes("one_value")
		var err error
		rows, err = v.parent.Store().Rows(ctx, v.query, v.parent.Args()...)
		if err != nil {
			return store.Null(), execErr("one_value", err)
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return store.Null(), nil
	}
	return rows[0][0], nil
}

func (v *OneValue) onParent(ctx context.Context, _ Event) error {
	val, err := v.read(ctx)
	if err != nil {
		return err
	}
	return v.Set(ctx, val)
}

// Parent returns the operator the value is read from.
func (v *OneValue) Parent() Operator { return v.parent }

func (v *OneValue) Released() bool { return v.released }

func (v *OneValue) release() {
	if v.released {
		return
	}
	v.released = true
	v.parent.Unsubscribe(v.sub)
	metrics.OperatorReleased("one_value")
}
