// Package api exposes sync start, status and abandon over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ucm-sync/internal/metrics"
	"ucm-sync/internal/service/history"
	"ucm-sync/internal/service/orchestrator"
	"ucm-sync/pkg/log"
)

type SyncService interface {
	Start(ctx context.Context, targetID string) (*orchestrator.RunHandle, error)
	Status(ctx context.Context, targetID string) (*orchestrator.RunStatus, error)
	Abandon(ctx context.Context, targetID, reason string) error
}

// HealthCheck reports whether a dependency, e.g. the datastore, is usable.
type HealthCheck func(ctx context.Context) error

type Routes struct {
	service SyncService
	health  HealthCheck
	logger  zerolog.Logger
}

type Option func(*Routes)

func WithHealthCheck(check HealthCheck) Option {
	return func(r *Routes) {
		r.health = check
	}
}

// NewRouter builds the HTTP handler of the service.
func NewRouter(service SyncService, opts ...Option) *chi.Mux {
	routes := &Routes{
		service: service,
		logger:  log.Logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(routes)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(routes.loggingMiddleware)

	r.Get("/healthz", routes.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/api/v1/targets/{targetID}/sync", routes.startSync)
	r.Get("/api/v1/targets/{targetID}/sync", routes.syncStatus)
	r.Delete("/api/v1/targets/{targetID}/sync", routes.abandonSync)
	return r
}

func (routes *Routes) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		routes.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (routes *Routes) healthz(w http.ResponseWriter, r *http.Request) {
	if routes.health != nil {
		if err := routes.health(r.Context()); err != nil {
			writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	writeJSONResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// startSync handles POST /api/v1/targets/{targetID}/sync
func (routes *Routes) startSync(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")

	handle, err := routes.service.Start(r.Context(), targetID)
	if err != nil {
		routes.writeServiceError(w, err)
		return
	}

	writeJSONResponse(w, StartResponse{
		TargetID:  targetID,
		RunID:     handle.RunID,
		BatchID:   handle.BatchID,
		HistoryID: handle.HistoryID,
	}, http.StatusAccepted)
}

// syncStatus handles GET /api/v1/targets/{targetID}/sync
func (routes *Routes) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := routes.service.Status(r.Context(), chi.URLParam(r, "targetID"))
	if err != nil {
		routes.writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, NewStatusResponse(status), http.StatusOK)
}

// abandonSync handles DELETE /api/v1/targets/{targetID}/sync?reason=...
func (routes *Routes) abandonSync(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "abandoned through the API"
	}

	if err := routes.service.Abandon(r.Context(), targetID, reason); err != nil {
		routes.writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, map[string]string{"target_id": targetID, "status": "abandoned"}, http.StatusOK)
}

func (routes *Routes) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrTargetNotFound):
		writeErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, history.ErrSyncInProgress):
		writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, history.ErrNothingToAbandon):
		writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
	default:
		routes.logger.Error().Err(err).Msg("Sync request failed")
		writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}
