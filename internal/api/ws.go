package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errClientGone = errors.New("client disconnected")

// client is one WebSocket connection. Messages are queued on send and
// written by a single goroutine; a client that falls a full buffer behind
// is disconnected.
type client struct {
	id     string
	engine *Engine
	send   chan any
	done   chan struct{}
	once   sync.Once
	live   map[string]liveQuery // guarded by engine.mu
	log    *zap.Logger
}

func newClient(e *Engine, buffer int, log *zap.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		engine: e,
		send:   make(chan any, buffer),
		done:   make(chan struct{}),
		live:   map[string]liveQuery{},
		log:    log.With(zap.String("client", id)),
	}
}

// enqueue never blocks: listeners run inside statement execution.
func (c *client) enqueue(msg any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn("send buffer full, disconnecting", zap.Int("buffer", cap(c.send)))
		c.close()
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) Subscribe(ctx context.Context, msg protocol.Subscribe) error {
	return c.engine.subscribe(ctx, c, msg)
}

func (c *client) Unsubscribe(_ context.Context, msg protocol.Unsubscribe) error {
	return c.engine.unsubscribe(c, msg.ID)
}

func (c *client) Send(msg any) error {
	if !c.enqueue(msg) {
		return errClientGone
	}
	return nil
}

func (c *client) writeLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := conn.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

// WSHandler serves the live query protocol.
type WSHandler struct {
	Engine *Engine
	Buffer int
}

func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	log := Logger(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h.Engine, h.Buffer, log)
	go c.writeLoop(conn)
	c.log.Info("client connected")
	defer func() {
		c.close()
		h.Engine.drop(c)
		c.log.Info("client disconnected")
	}()

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		if err := protocol.HandleMessage(ctx, raw, c); err != nil {
			return
		}
	}
}
