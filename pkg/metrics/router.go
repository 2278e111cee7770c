package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatusFunc reports named link states for the health endpoint.
type StatusFunc func() map[string]string

// NewRouter serves /metrics and /healthz.
func NewRouter(m *Metrics, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]string{}
		if status != nil {
			body = status()
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return r
}
