package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Handler serves decoded client messages for one connection.
type Handler interface {
	Subscribe(ctx context.Context, msg Subscribe) error
	Unsubscribe(ctx context.Context, msg Unsubscribe) error
	Send(msg any) error
}

// HandleMessage decodes one raw client message and routes it to h.
// Errors returned by h are reported back to the client as error messages;
// only a failure to reply is returned.
func HandleMessage(ctx context.Context, raw []byte, h Handler) error {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return h.Send(NewError("", fmt.Errorf("decode: %w", err)))
	}

	switch strings.ToLower(msg.Type) {
	case TypePing:
		return h.Send(Message{Type: TypePong, ID: msg.ID})

	case TypeSubscribe:
		var sub Subscribe
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&sub); err != nil {
			return h.Send(NewError(msg.ID, fmt.Errorf("bad subscribe: %w", err)))
		}
		sub.Args = NormalizeArgs(sub.Args)
		if sub.ID == "" || strings.TrimSpace(sub.SQL) == "" {
			return h.Send(NewError(msg.ID, fmt.Errorf("subscribe needs id and sql")))
		}
		if err := h.Subscribe(ctx, sub); err != nil {
			return h.Send(NewError(sub.ID, err))
		}
		return nil

	case TypeUnsubscribe:
		var unsub Unsubscribe
		if err := json.Unmarshal(raw, &unsub); err != nil {
			return h.Send(NewError(msg.ID, fmt.Errorf("bad unsubscribe: %w", err)))
		}
		if err := h.Unsubscribe(ctx, unsub); err != nil {
			return h.Send(NewError(unsub.ID, err))
		}
		return h.Send(Message{Type: TypeUnsubscribed, ID: unsub.ID})
	}
	return h.Send(NewError(msg.ID, fmt.Errorf("unknown message type %q", msg.Type)))
}
