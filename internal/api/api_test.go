package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/protocol"
	"github.com/zoravur/pglive/internal/reactive"
)

func TestLoggingMiddleware(t *testing.T) {
	var sawLogger bool
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = Logger(r.Context()) != zap.L()
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, sawLogger)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "trace-1", rec.Header().Get("X-Request-ID"))
}

func TestLoggingMiddlewareGeneratesTraceID(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"structural", &reactive.Error{Code: reactive.ErrCodeStructural}, http.StatusBadRequest},
		{"unsupported", &reactive.Error{Code: reactive.ErrCodeUnsupported}, http.StatusBadRequest},
		{"consistency", &reactive.Error{Code: reactive.ErrCodeConsistency}, http.StatusConflict},
		{
			"unique violation",
			&reactive.Error{Code: reactive.ErrCodeExecution, Err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})},
			http.StatusConflict,
		},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRoutesRejectBadRequests(t *testing.T) {
	srv := httptest.NewServer(SetupRoutes(NewEngine(nil, zap.NewNop()), 4))
	defer srv.Close()

	for _, body := range []string{`{nope`, `{"sql":"  "}`} {
		resp, err := http.Post(srv.URL+"/api/exec", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	resp, err := http.Post(srv.URL+"/api/exec", "application/json", strings.NewReader(`{"sql":"SELEKT"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestClientOverflowDisconnects(t *testing.T) {
	c := newClient(NewEngine(nil, zap.NewNop()), 2, zap.NewNop())

	require.NoError(t, c.Send(protocol.Message{Type: protocol.TypePong}))
	require.NoError(t, c.Send(protocol.Message{Type: protocol.TypePong}))
	assert.ErrorIs(t, c.Send(protocol.Message{Type: protocol.TypePong}), errClientGone)

	select {
	case <-c.done:
	default:
		t.Fatal("client still open after overflow")
	}
	assert.False(t, c.enqueue(protocol.Message{Type: protocol.TypePong}))
}

func TestUnsubscribeUnknown(t *testing.T) {
	e := NewEngine(nil, zap.NewNop())
	c := newClient(e, 1, zap.NewNop())
	assert.Error(t, e.unsubscribe(c, "nope"))
	e.drop(c)
}
