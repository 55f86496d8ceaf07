package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// analytics adapts a no-argument analytics call to a handler. The script's
// JSON is forwarded verbatim.
func (s *Server) analytics(run func(ctx context.Context) (json.RawMessage, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := run(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeRaw(w, out)
	}
}

func (s *Server) handleStoreAnalysis(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Analytics.Store(r.Context(), chi.URLParam(r, "storeId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeRaw(w, out)
}

func writeRaw(w http.ResponseWriter, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
