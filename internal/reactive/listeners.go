package reactive

import (
	"context"
	"slices"
)

// Listener receives one event per call. A non-nil error stops delivery to
// the remaining listeners and is returned to whoever caused the event.
type Listener func(ctx context.Context, ev Event) error

// Subscription identifies one registered listener.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Listener
}

// listeners is the listener list shared by signals and operators.
type listeners struct {
	next    Subscription
	subs    []subscriber
	onEmpty func()
}

func (l *listeners) Subscribe(fn Listener) Subscription {
	l.next++
	l.subs = append(l.subs, subscriber{id: l.next, fn: fn})
	return l.next
}

// Unsubscribe removes a listener. Removing the last one runs onEmpty.
func (l *listeners) Unsubscribe(id Subscription) {
	i := slices.IndexFunc(l.subs, func(s subscriber) bool { return s.id == id })
	if i < 0 {
		return
	}
	l.subs = slices.Delete(l.subs, i, i+1)
	if len(l.subs) == 0 && l.onEmpty != nil {
		l.onEmpty()
	}
}

func (l *listeners) Listeners() int { return len(l.subs) }

func (l *listeners) subscribed(id Subscription) bool {
	return slices.ContainsFunc(l.subs, func(s subscriber) bool { return s.id == id })
}

// notify delivers ev to a snapshot of the list; listeners removed while
// delivery is in progress are skipped.
func (l *listeners) notify(ctx context.Context, ev Event) error {
	snapshot := slices.Clone(l.subs)
	for _, s := range snapshot {
		if !l.subscribed(s.id) {
			continue
		}
		if err := s.fn(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
