// Package server provides the HTTP surface of the executor side: the batch
// endpoint, handler preflight, health checks, metrics and the session status
// board with remote abort.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/executor"
	"github.com/Sternrassler/batchsync/pkg/metrics"
	"github.com/Sternrassler/batchsync/pkg/registry"
	"github.com/Sternrassler/batchsync/pkg/session"
	"github.com/Sternrassler/batchsync/pkg/status"
	"github.com/Sternrassler/batchsync/pkg/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "batchsync_http_requests_total",
	Help: "Total batch server requests by route and status",
}, []string{"route", "status"})

// readyTimeout bounds the Redis ping of the readiness check.
const readyTimeout = 2 * time.Second

// StatusBoard is the published session status shared between processes.
// *status.Tracker implements it.
type StatusBoard interface {
	Get(ctx context.Context, handlerID string) (*status.Snapshot, error)
	RequestAbort(ctx context.Context, handlerID string) error
}

var _ StatusBoard = (*status.Tracker)(nil)

// Config holds the server dependencies. Registry and Executor are required;
// the rest enable optional endpoints.
type Config struct {
	Registry *registry.Registry
	Executor *executor.Executor

	// Redis is pinged by /ready.
	Redis *redis.Client

	// Status backs /sessions/{handler}/status and remote abort.
	Status StatusBoard

	// StaleAfter flags a running status without updates for this long as
	// stale (default: status.DefaultStaleAfter).
	StaleAfter time.Duration

	// Sessions runs server-side sessions started with
	// /sessions/{handler}/start and lets /sessions/{handler}/abort stop
	// them.
	Sessions *session.Orchestrator

	// SessionContext bounds server-side sessions; they fail when it is
	// cancelled (default: context.Background()).
	SessionContext context.Context

	Logger zerolog.Logger
}

// ServerOption configures the router
type ServerOption func(*serverConfig)

// serverConfig holds the router configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the router
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

type handlers struct {
	registry   *registry.Registry
	local      *transport.Local
	redis      *redis.Client
	status     StatusBoard
	staleAfter time.Duration
	sessions   *session.Orchestrator
	sessionCtx context.Context
	logger     zerolog.Logger
}

// NewRouter creates the HTTP router.
func NewRouter(cfg Config, opts ...ServerOption) (*chi.Mux, error) {
	if cfg.Registry == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("registry and executor are required")
	}

	sc := &serverConfig{}
	for _, opt := range opts {
		opt(sc)
	}

	h := &handlers{
		registry:   cfg.Registry,
		local:      transport.NewLocal(cfg.Registry, cfg.Executor),
		redis:      cfg.Redis,
		status:     cfg.Status,
		staleAfter: cfg.StaleAfter,
		sessions:   cfg.Sessions,
		sessionCtx: cfg.SessionContext,
		logger:     cfg.Logger.With().Str("component", "server").Logger(),
	}
	if h.staleAfter <= 0 {
		h.staleAfter = status.DefaultStaleAfter
	}
	if h.sessionCtx == nil {
		h.sessionCtx = context.Background()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range sc.middlewares {
		r.Use(mw)
	}
	r.Use(countRequests)

	r.Get("/health", healthHandler)
	r.Get("/ready", h.ready)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/handlers", h.listHandlers)
	r.Get("/handlers/{id}", h.preflight)
	r.Post("/batch", h.batch)

	r.Route("/sessions/{handler}", func(r chi.Router) {
		r.Get("/status", h.sessionStatus)
		r.Post("/start", h.startSession)
		r.Post("/abort", h.abortSession)
	})

	return r, nil
}

// LoggingMiddleware logs HTTP requests with zerolog.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", ww.Status())).Inc()
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		WriteJSONResponse(w, map[string]string{"status": "ready", "redis": "disabled"}, http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check failed")
		WriteJSONResponse(w, map[string]string{"status": "unavailable", "redis": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	WriteJSONResponse(w, map[string]string{"status": "ready", "redis": "ok"}, http.StatusOK)
}

func (h *handlers) listHandlers(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, h.registry.List())
}

func (h *handlers) preflight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := h.local.Preflight(r.Context(), id, transport.ParseScopes(r.Header.Get(transport.HeaderScopes)))
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, info)
}

func (h *handlers) batch(w http.ResponseWriter, r *http.Request) {
	req, err := transport.DecodeRequest(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	res, err := h.local.Dispatch(r.Context(), req)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("handler", req.HandlerID).
			Str("cursor", req.Cursor).
			Str("code", string(batch.CodeOf(err))).
			Msg("Batch request failed")
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, res)
}

func (h *handlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	handlerID := chi.URLParam(r, "handler")
	if h.status == nil {
		WriteFailure(w, fmt.Errorf("%w: status board is not configured", batch.ErrNotFound))
		return
	}

	snap, err := h.status.Get(r.Context(), handlerID)
	if errors.Is(err, status.ErrNoStatus) {
		WriteFailure(w, fmt.Errorf("%w: no session status for handler %q", batch.ErrNotFound, handlerID))
		return
	}
	if err != nil {
		WriteFailure(w, err)
		return
	}
	WriteSuccess(w, statusResponse{
		Snapshot: *snap,
		Stale:    snap.IsStale(h.staleAfter, time.Now()),
	})
}

// statusResponse is a published snapshot plus whether it went stale, which
// usually means the process running the session died.
type statusResponse struct {
	status.Snapshot
	Stale bool `json:"stale"`
}

// startResponse identifies a session started on the server.
type startResponse struct {
	SessionID string `json:"session_id"`
	HandlerID string `json:"handler_id"`
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	handlerID := chi.URLParam(r, "handler")
	if h.sessions == nil {
		WriteFailure(w, fmt.Errorf("%w: server-side sessions are not enabled", batch.ErrNotFound))
		return
	}

	scopes := transport.ParseScopes(r.Header.Get(transport.HeaderScopes))
	if _, err := h.local.Preflight(r.Context(), handlerID, scopes); err != nil {
		WriteFailure(w, err)
		return
	}

	opts, err := decodeOptions(r)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	s, err := h.sessions.Start(handlerID, scopes, opts)
	if err != nil {
		WriteFailure(w, err)
		return
	}

	go func() {
		// An abort before Run already finished the session
		_, err := s.Run(h.sessionCtx)
		if err != nil && !errors.Is(err, session.ErrAlreadyRun) {
			h.logger.Warn().Err(err).Str("session_id", s.ID()).Str("handler", handlerID).Msg("Server-side session failed")
		}
	}()

	WriteJSONResponse(w, envelope{
		Success: true,
		Data:    startResponse{SessionID: s.ID(), HandlerID: handlerID},
	}, http.StatusAccepted)
}

// decodeOptions reads the optional JSON options form field.
func decodeOptions(r *http.Request) (batch.Options, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", batch.ErrInvalidRequest, err)
	}
	raw := r.PostForm.Get(transport.FieldOptions)
	if raw == "" {
		return nil, nil
	}
	var opts batch.Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %v", batch.ErrInvalidRequest, transport.FieldOptions, err)
	}
	return opts, nil
}

// abortResponse reports where an abort request was delivered.
type abortResponse struct {
	HandlerID string `json:"handler_id"`
	Local     bool   `json:"local"`
	Remote    bool   `json:"remote"`
}

func (h *handlers) abortSession(w http.ResponseWriter, r *http.Request) {
	handlerID := chi.URLParam(r, "handler")

	// Aborting needs the same scope as running
	if _, err := h.registry.Authorize(handlerID, transport.ParseScopes(r.Header.Get(transport.HeaderScopes))); err != nil {
		WriteFailure(w, err)
		return
	}

	resp := abortResponse{HandlerID: handlerID}
	if h.sessions != nil {
		resp.Local = h.sessions.AbortHandler(handlerID)
	}
	if h.status != nil {
		if err := h.status.RequestAbort(r.Context(), handlerID); err != nil {
			WriteFailure(w, err)
			return
		}
		resp.Remote = true
	}

	if !resp.Local && !resp.Remote {
		WriteFailure(w, fmt.Errorf("%w: no running session for handler %q", batch.ErrNotFound, handlerID))
		return
	}
	WriteSuccess(w, resp)
}
