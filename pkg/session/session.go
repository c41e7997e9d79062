// Package session drives one handler through its pages: it threads the
// cursor from batch to batch, accumulates totals, reports progress and
// honours cooperative cancellation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/batchsync/pkg/activitylog"
	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/progress"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRun is returned when Run is called on a session more than once.
var ErrAlreadyRun = errors.New("session already run")

// Transport carries preflight checks and batch requests to the executor side.
type Transport interface {
	// Preflight resolves and authorizes the handler before any batch runs.
	// It returns batch.ErrNotFound or batch.ErrForbidden on rejection.
	Preflight(ctx context.Context, handlerID string, scopes batch.Scopes) (*batch.HandlerInfo, error)

	// Dispatch executes one batch and returns its normalized result.
	Dispatch(ctx context.Context, req batch.Request) (*batch.Result, error)
}

// AbortSource is polled between batches for an out-of-process abort request.
type AbortSource interface {
	AbortRequested(ctx context.Context, handlerID string) (bool, error)
}

// Config holds session configuration. Every field is optional.
type Config struct {
	// Log receives one entry per item and one summary entry per run.
	Log activitylog.Sink

	// Observer receives progress events and the final stats.
	Observer Observer

	// AbortSource is checked alongside Abort at the top of every iteration.
	AbortSource AbortSource

	// Logger is the base logger (default: global zerolog logger).
	Logger *zerolog.Logger

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time
}

// Session is one run of the pagination loop. Its counters and cursor are
// owned by the goroutine executing Run; Abort is the only method meant to be
// called from elsewhere while it runs.
type Session struct {
	id        string
	handlerID string
	scopes    batch.Scopes
	options   batch.Options
	transport Transport
	config    Config
	logger    zerolog.Logger

	state   atomic.Int32
	abort   atomic.Int32
	started atomic.Bool
	final   atomic.Pointer[Stats]
}

// Values of Session.abort. Once sealed, the outcome of the run no longer
// depends on Abort.
const (
	abortOpen int32 = iota
	abortPending
	abortSealed
)

// New creates an idle session for handlerID.
func New(transport Transport, handlerID string, scopes batch.Scopes, opts batch.Options, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}

	id := uuid.NewString()
	return &Session{
		id:        id,
		handlerID: handlerID,
		scopes:    scopes,
		options:   opts,
		transport: transport,
		config:    cfg,
		logger: base.With().
			Str("component", "session").
			Str("session_id", id).
			Str("handler", handlerID).
			Logger(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// HandlerID returns the handler this session drives.
func (s *Session) HandlerID() string { return s.handlerID }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Abort asks the session to stop before its next batch. A batch already in
// flight completes and is accounted, and the session then ends aborted
// unless that batch fails. A session that has not started yet is aborted
// immediately and its final stats are emitted.
//
// Abort returns false, and has no effect, once the session has reached a
// terminal state or is past its last batch.
func (s *Session) Abort() bool {
	if s.State().Terminal() {
		return false
	}
	if !s.abort.CompareAndSwap(abortOpen, abortPending) {
		return s.abort.Load() == abortPending
	}
	s.logger.Info().Msg("Abort requested")

	if s.started.CompareAndSwap(false, true) {
		r := &run{
			start: s.config.Clock(),
			stats: Stats{SessionID: s.id, HandlerID: s.handlerID},
		}
		_, _ = s.finish(context.Background(), r, StateAborted, nil)
	}
	return true
}

// run is the mutable state of one Run call.
type run struct {
	info    *batch.HandlerInfo
	stats   Stats
	tracker *progress.Tracker
	start   time.Time
}

// Run executes the session to a terminal state and returns the final stats.
// The error is nil for completed and aborted sessions.
//
// Cancelling ctx is a hard stop: the in-flight request is cancelled and the
// session fails. Use Abort for a graceful stop between batches.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	if !s.started.CompareAndSwap(false, true) {
		if final := s.final.Load(); final != nil {
			return *final, ErrAlreadyRun
		}
		return Stats{SessionID: s.id, HandlerID: s.handlerID, State: s.State()}, ErrAlreadyRun
	}

	r := &run{
		start: s.config.Clock(),
		stats: Stats{SessionID: s.id, HandlerID: s.handlerID},
	}
	sessionsActive.Inc()
	defer sessionsActive.Dec()

	// Preflight failures end the session before it ever runs or logs
	info, err := s.transport.Preflight(ctx, s.handlerID, s.scopes)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Preflight rejected session")
		return s.finish(ctx, r, StateFailed, fmt.Errorf("preflight: %w", err))
	}
	r.info = info
	s.state.Store(int32(StateRunning))
	r.tracker = progress.NewTracker(r.start)

	s.logger.Info().
		Int("limit", info.Limit).
		Msg("Starting session")

	cursor := ""
	hasMore := true
	for hasMore {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, r, StateFailed, fmt.Errorf("session cancelled: %w", err))
		}
		if s.abortRequested(ctx) {
			return s.finish(ctx, r, StateAborted, nil)
		}

		batchNumber := r.stats.Batches + 1
		batchStart := s.config.Clock()

		res, err := s.transport.Dispatch(ctx, batch.Request{
			HandlerID: s.handlerID,
			Cursor:    cursor,
			Limit:     info.Limit,
			Options:   s.options,
			Scopes:    s.scopes,
		})
		batchRoundTrip.WithLabelValues(s.handlerID).Observe(s.config.Clock().Sub(batchStart).Seconds())
		if err != nil {
			s.logger.Error().
				Err(err).
				Int("batch", batchNumber).
				Str("cursor", cursor).
				Msg("Batch failed")
			return s.finish(ctx, r, StateFailed, fmt.Errorf("batch %d: %w", batchNumber, err))
		}

		s.account(r, batchNumber, res)
		s.emitProgress(r, res.Items, false)
		s.logItems(ctx, r, res.Items)

		s.logger.Debug().
			Int("batch", batchNumber).
			Str("cursor", cursor).
			Str("next_cursor", res.LastCursor).
			Int("processed", res.Processed).
			Int("failed", res.Failed).
			Bool("has_more", res.HasMore).
			Msg("Batch accounted")

		cursor = res.LastCursor
		hasMore = res.HasMore
	}

	// An abort that arrived while the last batch was in flight still wins
	if !s.abort.CompareAndSwap(abortOpen, abortSealed) {
		return s.finish(ctx, r, StateAborted, nil)
	}
	r.tracker.Complete()
	s.emitProgress(r, nil, true)
	return s.finish(ctx, r, StateCompleted, nil)
}

// abortRequested checks the local flag, then the optional external source.
func (s *Session) abortRequested(ctx context.Context) bool {
	if s.abort.Load() == abortPending {
		return true
	}
	if s.config.AbortSource == nil {
		return false
	}

	requested, err := s.config.AbortSource.AbortRequested(ctx, s.handlerID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Abort source check failed")
		return false
	}
	if requested && s.abort.CompareAndSwap(abortOpen, abortPending) {
		s.logger.Info().Msg("Abort requested by external source")
	}
	return requested
}

// account folds one batch result into the running totals.
func (s *Session) account(r *run, batchNumber int, res *batch.Result) {
	r.stats.Batches = batchNumber
	r.stats.Processed += res.Processed
	r.stats.Failed += res.Failed
	r.stats.Total = r.stats.Processed + r.stats.Failed
	r.tracker.Observe(res.EstimatedTotal)

	batchesTotal.WithLabelValues(s.handlerID).Inc()
	itemsTotal.WithLabelValues(s.handlerID, "processed").Add(float64(res.Processed))
	itemsTotal.WithLabelValues(s.handlerID, "failed").Add(float64(res.Failed))
}

func (s *Session) emitProgress(r *run, items []batch.Item, done bool) {
	if s.config.Observer == nil {
		return
	}

	snap := r.tracker.Update(r.stats.Total, s.config.Clock())
	if items == nil {
		items = []batch.Item{}
	}

	s.config.Observer.OnProgress(Event{
		SessionID:      s.id,
		HandlerID:      s.handlerID,
		Batch:          r.stats.Batches,
		Processed:      r.stats.Processed,
		Failed:         r.stats.Failed,
		Total:          r.stats.Total,
		EstimatedTotal: snap.EstimatedTotal,
		Percent:        snap.Percent,
		ETA:            snap.ETA,
		ETAKnown:       snap.ETAKnown,
		ETAText:        snap.ETAString(),
		Elapsed:        snap.Elapsed,
		Items:          items,
		Done:           done,
	})
}

func (s *Session) logItems(ctx context.Context, r *run, items []batch.Item) {
	label := r.info.Label(1)
	for _, item := range items {
		name := item.DisplayName
		if name == "" {
			name = "#" + item.ID
		}

		entry := activitylog.Entry{
			Time:    s.config.Clock(),
			Status:  activitylog.StatusSuccess,
			Message: fmt.Sprintf("Processed %s %s", label, name),
		}
		if item.HasFailed() {
			entry.Status = activitylog.StatusError
			entry.Message = fmt.Sprintf("Failed %s %s", label, name)
			entry.Detail = item.ErrorMessage()
		}
		s.appendLog(ctx, entry)
	}
}

func (s *Session) appendLog(ctx context.Context, entry activitylog.Entry) {
	if s.config.Log == nil {
		return
	}
	if err := s.config.Log.Append(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("message", entry.Message).Msg("Activity log append failed")
	}
}

// finish moves the session to its terminal state and emits the final stats
// exactly once.
func (s *Session) finish(ctx context.Context, r *run, state State, err error) (Stats, error) {
	s.abort.CompareAndSwap(abortOpen, abortSealed)
	r.stats.State = state
	r.stats.Aborted = state == StateAborted
	r.stats.Duration = s.config.Clock().Sub(r.start)
	r.stats.Message = summarize(r.info, r.stats, err)
	final := r.stats
	s.final.Store(&final)
	s.state.Store(int32(state))

	// Preflight failures produce no activity log output
	if r.info != nil {
		entry := activitylog.Entry{Time: s.config.Clock(), Message: r.stats.Message}
		switch {
		case state == StateFailed:
			entry.Status = activitylog.StatusError
		case state == StateAborted || r.stats.Failed > 0:
			entry.Status = activitylog.StatusWarning
		default:
			entry.Status = activitylog.StatusSuccess
		}
		// The summary must be recorded even if ctx was the reason we stopped
		s.appendLog(context.WithoutCancel(ctx), entry)
	}

	sessionsTotal.WithLabelValues(s.handlerID, state.String()).Inc()

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Error().Err(err)
	}
	event.
		Str("state", state.String()).
		Int("processed", r.stats.Processed).
		Int("failed", r.stats.Failed).
		Int("batches", r.stats.Batches).
		Dur("duration", r.stats.Duration).
		Msg("Session finished")

	if s.config.Observer != nil {
		s.config.Observer.OnFinish(r.stats, err)
	}

	return r.stats, err
}

// summarize builds the user-facing summary, distinguishing full success,
// success with failures, cancellation and failure.
func summarize(info *batch.HandlerInfo, st Stats, err error) string {
	labels := batch.HandlerInfo{}
	if info != nil {
		labels = *info
	}

	switch st.State {
	case StateCompleted:
		if st.Total == 0 {
			return fmt.Sprintf("No %s to process.", labels.Label(0))
		}
		if st.Failed == 0 {
			return fmt.Sprintf("All %d %s processed successfully.", st.Processed, labels.Label(st.Processed))
		}
		return fmt.Sprintf("Processed %d %s with %d %s.",
			st.Processed, labels.Label(st.Processed), st.Failed, plural(st.Failed, "failure", "failures"))
	case StateAborted:
		return fmt.Sprintf("Cancelled after %d %s: %d %s processed, %d failed.",
			st.Batches, plural(st.Batches, "batch", "batches"), st.Processed, labels.Label(st.Processed), st.Failed)
	default:
		return fmt.Sprintf("Failed after %d %s: %v", st.Batches, plural(st.Batches, "batch", "batches"), err)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
