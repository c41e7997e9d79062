// Package executor runs one registered handler for one page and validates
// the result it returns.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for handler execution.
var (
	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchsync_handler_duration_seconds",
		Help:    "Handler process function duration in seconds by handler",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"handler"})

	handlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_handler_errors_total",
		Help: "Total handler failures by handler and kind",
	}, []string{"handler", "kind"})
)

// Config holds executor configuration.
type Config struct {
	// Timeout bounds a single handler invocation (0 disables the bound).
	Timeout time.Duration
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

// Executor invokes handler process functions.
type Executor struct {
	config Config
	logger zerolog.Logger
}

// New creates an executor.
func New(cfg Config, logger zerolog.Logger) *Executor {
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	return &Executor{
		config: cfg,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

type outcome struct {
	result *batch.BatchResult
	err    error
}

// Execute runs handler for the page after cursor and returns the normalized
// result. A limit <= 0 falls back to the handler's configured limit.
//
// Handler failures, panics and timeouts are returned as *batch.ExecutionError;
// shape violations as batch.ErrMalformedResult. Nothing is retried.
func (e *Executor) Execute(ctx context.Context, h *registry.Handler, cursor string, limit int, opts batch.Options) (*batch.Result, error) {
	if limit <= 0 {
		limit = h.Limit()
	}
	merged := batch.Merge(h.DefaultOptions(), opts)

	logger := e.logger.With().
		Str("handler", h.ID()).
		Str("cursor", cursor).
		Int("limit", limit).
		Logger()

	runCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error().
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Msg("Handler panicked")
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := h.Process()(runCtx, cursor, limit, merged)
		done <- outcome{result: res, err: err}
	}()

	// The handler goroutine is abandoned on timeout; it exits when the
	// process function returns.
	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		out = outcome{err: runCtx.Err()}
	}
	handlerDuration.WithLabelValues(h.ID()).Observe(time.Since(start).Seconds())

	if out.err != nil {
		kind := "error"
		if errors.Is(out.err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		handlerErrorsTotal.WithLabelValues(h.ID(), kind).Inc()
		logger.Warn().Err(out.err).Str("kind", kind).Msg("Handler execution failed")
		return nil, &batch.ExecutionError{HandlerID: h.ID(), Cursor: cursor, Err: out.err}
	}

	result, err := Normalize(out.result)
	if err != nil {
		handlerErrorsTotal.WithLabelValues(h.ID(), "malformed").Inc()
		logger.Warn().Err(err).Msg("Handler returned malformed result")
		return nil, fmt.Errorf("handler %q: %w", h.ID(), err)
	}

	logger.Debug().
		Int("items", len(result.Items)).
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Bool("has_more", result.HasMore).
		Dur("duration", time.Since(start)).
		Msg("Batch executed")

	return result, nil
}
