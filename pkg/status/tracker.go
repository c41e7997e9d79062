package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoStatus is returned when no status is published for a handler.
var ErrNoStatus = errors.New("no status published")

// Prometheus metrics for status tracking.
var (
	statusPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchsync_status_publishes_total",
		Help: "Total session status snapshots published to Redis",
	})

	statusErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_status_errors_total",
		Help: "Total status Redis errors by operation",
	}, []string{"operation"})

	abortRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchsync_abort_requests_total",
		Help: "Total remote abort requests",
	})
)

// record is the Redis hash layout of a Snapshot.
type record struct {
	SessionID      string `redis:"session_id"`
	HandlerID      string `redis:"handler_id"`
	State          string `redis:"state"`
	Batch          int    `redis:"batch"`
	Processed      int    `redis:"processed"`
	Failed         int    `redis:"failed"`
	Total          int    `redis:"total"`
	EstimatedTotal int    `redis:"estimated_total"`
	Percent        int    `redis:"percent"`
	ETA            string `redis:"eta"`
	Message        string `redis:"message"`
	UpdatedAtMs    int64  `redis:"updated_at_ms"`
}

// Tracker stores session status and abort flags in Redis.
type Tracker struct {
	redis    *redis.Client
	ttl      time.Duration
	abortTTL time.Duration
	logger   zerolog.Logger
}

// NewTracker creates a status tracker. ttl falls back to DefaultTTL when <= 0.
func NewTracker(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		redis:    redisClient,
		ttl:      ttl,
		abortTTL: DefaultAbortTTL,
		logger:   logger.With().Str("component", "status").Logger(),
	}
}

// Publish stores snap under its handler's key and refreshes the TTL.
func (t *Tracker) Publish(ctx context.Context, snap Snapshot) error {
	if snap.HandlerID == "" {
		return fmt.Errorf("snapshot has no handler id")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	key := StatusKey(snap.HandlerID)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"session_id":      snap.SessionID,
		"handler_id":      snap.HandlerID,
		"state":           snap.State,
		"batch":           snap.Batch,
		"processed":       snap.Processed,
		"failed":          snap.Failed,
		"total":           snap.Total,
		"estimated_total": snap.EstimatedTotal,
		"percent":         snap.Percent,
		"eta":             snap.ETA,
		"message":         snap.Message,
		"updated_at_ms":   snap.UpdatedAt.UnixMilli(),
	})
	pipe.Expire(ctx, key, t.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		statusErrorsTotal.WithLabelValues("publish").Inc()
		return fmt.Errorf("store status in redis: %w", err)
	}

	statusPublishesTotal.Inc()
	t.logger.Debug().
		Str("handler", snap.HandlerID).
		Str("session_id", snap.SessionID).
		Str("state", snap.State).
		Int("percent", snap.Percent).
		Msg("Session status published")
	return nil
}

// Get returns the published status of a handler, or ErrNoStatus.
func (t *Tracker) Get(ctx context.Context, handlerID string) (*Snapshot, error) {
	cmd := t.redis.HGetAll(ctx, StatusKey(handlerID))
	fields, err := cmd.Result()
	if err != nil {
		statusErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("get status: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: handler %q", ErrNoStatus, handlerID)
	}

	var rec record
	if err := cmd.Scan(&rec); err != nil {
		statusErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("parse status: %w", err)
	}

	return &Snapshot{
		SessionID:      rec.SessionID,
		HandlerID:      rec.HandlerID,
		State:          rec.State,
		Batch:          rec.Batch,
		Processed:      rec.Processed,
		Failed:         rec.Failed,
		Total:          rec.Total,
		EstimatedTotal: rec.EstimatedTotal,
		Percent:        rec.Percent,
		ETA:            rec.ETA,
		Message:        rec.Message,
		UpdatedAt:      time.UnixMilli(rec.UpdatedAtMs),
	}, nil
}

// RequestAbort flags the handler's running session for abort. The session
// picks the flag up before its next batch.
func (t *Tracker) RequestAbort(ctx context.Context, handlerID string) error {
	if err := t.redis.Set(ctx, AbortKey(handlerID), "1", t.abortTTL).Err(); err != nil {
		statusErrorsTotal.WithLabelValues("abort").Inc()
		return fmt.Errorf("store abort request: %w", err)
	}

	abortRequestsTotal.Inc()
	t.logger.Info().Str("handler", handlerID).Msg("Abort requested")
	return nil
}

// AbortRequested reports whether an abort is pending for the handler. It
// implements session.AbortSource.
func (t *Tracker) AbortRequested(ctx context.Context, handlerID string) (bool, error) {
	n, err := t.redis.Exists(ctx, AbortKey(handlerID)).Result()
	if err != nil {
		statusErrorsTotal.WithLabelValues("abort_check").Inc()
		return false, fmt.Errorf("check abort request: %w", err)
	}
	return n > 0, nil
}

// ClearAbort removes a pending abort request.
func (t *Tracker) ClearAbort(ctx context.Context, handlerID string) error {
	if err := t.redis.Del(ctx, AbortKey(handlerID)).Err(); err != nil {
		statusErrorsTotal.WithLabelValues("abort_clear").Inc()
		return fmt.Errorf("clear abort request: %w", err)
	}
	return nil
}
