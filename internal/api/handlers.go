package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zoravur/pglive/internal/protocol"
	"github.com/zoravur/pglive/internal/reactive"
	"github.com/zoravur/pglive/internal/store"
)

// ExecRequest is the body of POST /api/exec and POST /api/explain.
type ExecRequest struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

func decodeExec(r *http.Request) (ExecRequest, error) {
	var req ExecRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.SQL) == "" {
		return req, errors.New("missing sql")
	}
	req.Args = protocol.NormalizeArgs(req.Args)
	return req, nil
}

func handleExec(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeExec(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := e.Exec(r.Context(), req.SQL, req.Args...)
		if err != nil {
			Logger(r.Context()).Warn("exec failed", zap.String("sql", req.SQL), zap.Error(err))
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleExplain(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeExec(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		plan, err := e.Explain(r.Context(), req.SQL, req.Args...)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(plan))
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case reactive.IsStructural(err), reactive.IsUnsupported(err):
		return http.StatusBadRequest
	case reactive.IsConsistency(err), store.IsConstraintViolation(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "encode failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
