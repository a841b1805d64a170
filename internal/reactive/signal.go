package reactive

import (
	"context"

	"github.com/zoravur/pglive/internal/store"
)

// Source is an observable scalar. Listeners receive
// Update(Row{old}, Row{new}) when the value changes.
type Source interface {
	Value() store.Value
	Subscribe(fn Listener) Subscription
	Unsubscribe(id Subscription)
}

// Signal is a settable value cell.
type Signal struct {
	listeners
	value store.Value
}

func NewSignal(v store.Value) *Signal {
	return &Signal{value: v}
}

func (s *Signal) Value() store.Value { return s.value }

// Set stores v and notifies listeners unless v equals the current value.
func (s *Signal) Set(ctx context.Context, v store.Value) error {
	if s.value.Equal(v) {
		return nil
	}
	old := s.value
	s.value = v
	return s.notify(ctx, Update(store.Row{old}, store.Row{v}))
}

// ComputeFunc derives a value from the current state of its dependencies.
type ComputeFunc func(ctx context.Context) (store.Value, error)

// DerivedSignal recomputes whenever one of its dependencies changes.
type DerivedSignal struct {
	Signal
	compute ComputeFunc
	deps    []Source
	subs    []Subscription
}

func NewDerivedSignal(ctx context.Context, compute ComputeFunc, deps ...Source) (*DerivedSignal, error) {
	d := &DerivedSignal{}
	if err := d.Replace(ctx, compute, deps...); err != nil {
		return nil, err
	}
	return d, nil
}

// Replace swaps the compute function and dependency set. Old dependencies
// are detached before the new ones are attached.
func (d *DerivedSignal) Replace(ctx context.Context, compute ComputeFunc, deps ...Source) error {
	d.Close()
	d.compute = compute
	d.deps = deps
	for _, dep := range deps {
		d.subs = append(d.subs, dep.Subscribe(d.onDep))
	}
	return d.recompute(ctx)
}

func (d *DerivedSignal) onDep(ctx context.Context, _ Event) error {
	return d.recompute(ctx)
}

func (d *DerivedSignal) recompute(ctx context.Context) error {
	v, err := d.compute(ctx)
	if err != nil {
		return err
	}
	return d.Set(ctx, v)
}

// Close detaches from every dependency.
func (d *DerivedSignal) Close() {
	for i, dep := range d.deps {
		dep.Unsubscribe(d.subs[i])
	}
	d.deps, d.subs = nil, nil
}

// ChooseFunc picks the source a DerivedSignal2 should follow.
type ChooseFunc func(ctx context.Context) (Source, error)

// DerivedSignal2 follows a target source that is itself chosen from the
// current values of its dependencies.
type DerivedSignal2 struct {
	Signal
	choose  ChooseFunc
	deps    []Source
	depSubs []Subscription

	target    Source
	targetSub Subscription
}

func NewDerivedSignal2(ctx context.Context, choose ChooseFunc, deps ...Source) (*DerivedSignal2, error) {
	d := &DerivedSignal2{choose: choose, deps: deps}
	if err := d.retarget(ctx); err != nil {
		return nil, err
	}
	for _, dep := range deps {
		d.depSubs = append(d.depSubs, dep.Subscribe(d.onDep))
	}
	return d, nil
}

// Target returns the source currently followed.
func (d *DerivedSignal2) Target() Source { return d.target }

func (d *DerivedSignal2) onDep(ctx context.Context, _ Event) error {
	return d.retarget(ctx)
}

func (d *DerivedSignal2) onTarget(ctx context.Context, _ Event) error {
	return d.Set(ctx, d.target.Value())
}

// retarget attaches to the newly chosen source before letting go of the
// old one, so a source chosen again is not torn down in between.
func (d *DerivedSignal2) retarget(ctx context.Context) error {
	next, err := d.choose(ctx)
	if err != nil {
		return err
	}
	if next != d.target {
		old, oldSub := d.target, d.targetSub
		d.target = next
		d.targetSub = next.Subscribe(d.onTarget)
		if old != nil {
			old.Unsubscribe(oldSub)
		}
	}
	return d.Set(ctx, d.target.Value())
}

// Close detaches from the dependencies and the current target.
func (d *DerivedSignal2) Close() {
	for i, dep := range d.deps {
		dep.Unsubscribe(d.depSubs[i])
	}
	d.deps, d.depSubs = nil, nil
	if d.target != nil {
		d.target.Unsubscribe(d.targetSub)
		d.target = nil
	}
}
