// Package protocol defines the WebSocket messages exchanged with live
// query clients.
package protocol

import (
	"encoding/json"
	"strconv"

	"github.com/zoravur/pglive/internal/reactive"
	"github.com/zoravur/pglive/internal/store"
)

// Message types.
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeSubscribe    = "subscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribe  = "unsubscribe"
	TypeUnsubscribed = "unsubscribed"
	TypeEvent        = "event"
	TypeError        = "error"
)

type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Subscribe asks for a live query. ID is chosen by the client and names
// the subscription in every later message.
type Subscribe struct {
	Message
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

type Unsubscribe struct {
	Message
}

// Subscribed carries the initial result of a subscription.
type Subscribed struct {
	Message
	Columns []store.Column `json:"columns"`
	Rows    []store.Row    `json:"rows"`
}

// Event is one change to a subscribed result.
type Event struct {
	Message
	Event EventBody `json:"event"`
}

type EventBody struct {
	Kind string    `json:"kind"`
	Old  store.Row `json:"old,omitempty"`
	New  store.Row `json:"new,omitempty"`
	Pos  *int      `json:"pos,omitempty"`
	To   *int      `json:"to,omitempty"`
}

type Error struct {
	Message
	Error string `json:"error"`
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// NewEvent encodes ev for subscription id. Positions are only set for
// events of ordered results.
func NewEvent(id string, ev reactive.Event) Event {
	body := EventBody{Kind: ev.Kind.String(), Old: ev.Old, New: ev.New}
	if ev.Pos >= 0 {
		pos := ev.Pos
		body.Pos = &pos
	}
	if ev.Kind == reactive.EventMove {
		to := ev.To
		body.To = &to
	}
	return Event{Message: Message{Type: TypeEvent, ID: id}, Event: body}
}

func NewError(id string, err error) Error {
	return Error{Message: Message{Type: TypeError, ID: id}, Error: err.Error()}
}

// NormalizeArgs converts json.Number arguments to int64 when integral and
// to float64 otherwise. Other values are kept.
func NormalizeArgs(args []any) []any {
	for i, a := range args {
		n, ok := a.(json.Number)
		if !ok {
			continue
		}
		if v, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			args[i] = v
		} else if f, err := n.Float64(); err == nil {
			args[i] = f
		} else {
			args[i] = string(n)
		}
	}
	return args
}
