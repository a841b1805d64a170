package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zoravur/pglive/internal/metrics"
)

func SetupRoutes(e *Engine, clientBuffer int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/exec", handleExec(e))
		r.Post("/explain", handleExplain(e))
		r.Get("/live", handleLiveQueries(e))
	})

	ws := &WSHandler{Engine: e, Buffer: clientBuffer}
	r.Get("/ws", ws.HandleWS)
	r.Handle("/metrics", metrics.Handler())

	return r
}
