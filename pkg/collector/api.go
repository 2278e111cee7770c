package collector

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Reader is the query side of the store.
type Reader interface {
	Latest(ctx context.Context, limit int) ([]Record, error)
	Current(ctx context.Context) (Record, bool, error)
}

type API struct {
	store  Reader
	limit  int
	logger *zap.Logger
}

func NewAPI(store Reader, limit int, logger *zap.Logger) *API {
	if limit <= 0 {
		limit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{store: store, limit: limit, logger: logger}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)
	r.Use(allowAnyOrigin)
	r.Get("/api/data", a.handleData)
	r.Get("/api/current", a.handleCurrent)
	return r
}

func (a *API) handleData(w http.ResponseWriter, r *http.Request) {
	records, err := a.store.Latest(r.Context(), a.limit)
	if err != nil {
		a.logger.Error("list readings", zap.Error(err))
		http.Error(w, "failed to load readings", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, records)
}

func (a *API) handleCurrent(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := a.store.Current(r.Context())
	if err != nil {
		a.logger.Error("current reading", zap.Error(err))
		http.Error(w, "failed to load reading", http.StatusInternalServerError)
		return
	}
	if !ok {
		a.writeJSON(w, struct{}{})
		return
	}
	a.writeJSON(w, rec)
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response JSON", zap.Error(err))
	}
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
