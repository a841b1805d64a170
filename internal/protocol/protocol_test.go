package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/pglive/internal/reactive"
	"github.com/zoravur/pglive/internal/store"
)

type fakeHandler struct {
	subs    []Subscribe
	unsubs  []Unsubscribe
	sent    []any
	failSub error
}

func (f *fakeHandler) Subscribe(_ context.Context, msg Subscribe) error {
	f.subs = append(f.subs, msg)
	return f.failSub
}

func (f *fakeHandler) Unsubscribe(_ context.Context, msg Unsubscribe) error {
	f.unsubs = append(f.unsubs, msg)
	return nil
}

func (f *fakeHandler) Send(msg any) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		h := &fakeHandler{}
		require.NoError(t, HandleMessage(ctx, []byte(`{"type":"PING","id":"p1"}`), h))
		assert.Equal(t, []any{Message{Type: TypePong, ID: "p1"}}, h.sent)
	})

	t.Run("subscribe", func(t *testing.T) {
		h := &fakeHandler{}
		raw := `{"type":"subscribe","id":"q1","sql":"SELECT * FROM items WHERE id > $1","args":[3,1.5,"x"]}`
		require.NoError(t, HandleMessage(ctx, []byte(raw), h))
		require.Len(t, h.subs, 1)
		assert.Equal(t, "q1", h.subs[0].ID)
		assert.Equal(t, []any{int64(3), 1.5, "x"}, h.subs[0].Args)
		assert.Empty(t, h.sent)
	})

	t.Run("subscribe failure is reported", func(t *testing.T) {
		h := &fakeHandler{failSub: errors.New("boom")}
		require.NoError(t, HandleMessage(ctx, []byte(`{"type":"subscribe","id":"q1","sql":"SELECT 1"}`), h))
		require.Len(t, h.sent, 1)
		assert.Equal(t, NewError("q1", errors.New("boom")), h.sent[0])
	})

	t.Run("subscribe without sql", func(t *testing.T) {
		h := &fakeHandler{}
		require.NoError(t, HandleMessage(ctx, []byte(`{"type":"subscribe","id":"q1"}`), h))
		assert.Empty(t, h.subs)
		require.Len(t, h.sent, 1)
		assert.Equal(t, TypeError, h.sent[0].(Error).Type)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		h := &fakeHandler{}
		require.NoError(t, HandleMessage(ctx, []byte(`{"type":"unsubscribe","id":"q1"}`), h))
		require.Len(t, h.unsubs, 1)
		assert.Equal(t, []any{Message{Type: TypeUnsubscribed, ID: "q1"}}, h.sent)
	})

	t.Run("garbage", func(t *testing.T) {
		h := &fakeHandler{}
		require.NoError(t, HandleMessage(ctx, []byte(`{nope`), h))
		require.Len(t, h.sent, 1)
		assert.Equal(t, TypeError, h.sent[0].(Error).Type)
	})

	t.Run("unknown type", func(t *testing.T) {
		h := &fakeHandler{}
		require.NoError(t, HandleMessage(ctx, []byte(`{"type":"explode"}`), h))
		assert.Contains(t, h.sent[0].(Error).Error, "explode")
	})
}

func TestNewEventJSON(t *testing.T) {
	row := store.MustValues(1, "a")

	data, err := json.Marshal(NewEvent("q1", reactive.Insert(row)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","id":"q1","event":{"kind":"insert","new":[1,"a"]}}`, string(data))

	data, err = json.Marshal(NewEvent("q1", reactive.Move(2, 0, row, row)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","id":"q1","event":{"kind":"move","old":[1,"a"],"new":[1,"a"],"pos":2,"to":0}}`, string(data))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, r.Add(&Subscription{ID: "b", ClientID: "c1", Since: t0.Add(time.Second)}))
	require.True(t, r.Add(&Subscription{ID: "a", ClientID: "c2", Since: t0}))
	require.True(t, r.Add(&Subscription{ID: "a", ClientID: "c1", Since: t0.Add(2 * time.Second)}))
	assert.False(t, r.Add(&Subscription{ID: "a", ClientID: "c1"}))

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"c2", "c1", "c1"}, []string{snap[0].ClientID, snap[1].ClientID, snap[2].ClientID})

	r.Remove("c2", "a")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.RemoveClient("c1"))
	assert.Equal(t, 0, r.Len())
}
