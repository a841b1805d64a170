package api

import (
	"net/http"
)

// handleLiveQueries lists every client subscription, oldest first.
func handleLiveQueries(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Subscriptions().Snapshot())
	}
}
