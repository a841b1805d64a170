package reactive

import (
	"fmt"

	"github.com/zoravur/pglive/internal/store"
)

type EventKind uint8

const (
	EventInsert EventKind = iota + 1
	EventDelete
	EventUpdate
	// EventMove is only emitted by Order.
	EventMove
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "insert"
	case EventDelete:
		return "delete"
	case EventUpdate:
		return "update"
	case EventMove:
		return "move"
	}
	return "unknown"
}

// Event is one row change. Old is set for Delete, Update and Move, New for
// Insert, Update and Move. A Move whose rows differ is a row that changed
// while changing place.
//
// Order attaches positions: Pos is the index the change applies at in the
// window as patched so far, To is the destination index of a Move.
// Positions are -1 on events from unordered operators.
type Event struct {
	Kind EventKind
	Old  store.Row
	New  store.Row
	Pos  int
	To   int
}

func Insert(r store.Row) Event { return Event{Kind: EventInsert, New: r, Pos: -1, To: -1} }
func Delete(r store.Row) Event { return Event{Kind: EventDelete, Old: r, Pos: -1, To: -1} }
func Update(before, after store.Row) Event {
	return Event{Kind: EventUpdate, Old: before, New: after, Pos: -1, To: -1}
}
func Move(from, to int, before, after store.Row) Event {
	return Event{Kind: EventMove, Old: before, New: after, Pos: from, To: to}
}

// at returns e positioned at index i.
func (e Event) at(i int) Event {
	e.Pos = i
	return e
}

// Noop reports an Update whose rows are equal.
func (e Event) Noop() bool {
	return e.Kind == EventUpdate && e.Old.Equal(e.New)
}

func (e Event) String() string {
	switch e.Kind {
	case EventInsert:
		return fmt.Sprintf("Insert%s", e.New)
	case EventDelete:
		return fmt.Sprintf("Delete%s", e.Old)
	case EventUpdate:
		return fmt.Sprintf("Update(%s, %s)", e.Old, e.New)
	case EventMove:
		return fmt.Sprintf("Move(%d, %d, %s)", e.Pos, e.To, e.New)
	}
	return "Event(?)"
}
