// Package status publishes live session status to Redis and carries abort
// requests from other processes to a running session. A handler runs at most
// one session at a time, so status and abort flags are keyed by handler id.
// Everything expires by TTL: this is live visibility, not session history.
package status

import (
	"time"

	"github.com/Sternrassler/batchsync/pkg/session"
)

// Redis key prefixes for status storage.
const (
	RedisKeyStatusPrefix = "batchsync:status:"
	RedisKeyAbortPrefix  = "batchsync:abort:"
)

// Defaults for status expiry.
const (
	// DefaultTTL is how long a status survives after its last update.
	DefaultTTL = time.Hour

	// DefaultAbortTTL bounds how long an unclaimed abort request lingers.
	DefaultAbortTTL = 10 * time.Minute

	// DefaultStaleAfter marks a running status without updates as stale,
	// e.g. because its process died.
	DefaultStaleAfter = 5 * time.Minute
)

// StatusKey returns the hash key holding a handler's status.
func StatusKey(handlerID string) string {
	return RedisKeyStatusPrefix + handlerID
}

// AbortKey returns the key flagging an abort request for a handler.
func AbortKey(handlerID string) string {
	return RedisKeyAbortPrefix + handlerID
}

// Snapshot is the published view of a session.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	HandlerID      string    `json:"handler_id"`
	State          string    `json:"state"`
	Batch          int       `json:"batch"`
	Processed      int       `json:"processed"`
	Failed         int       `json:"failed"`
	Total          int       `json:"total"`
	EstimatedTotal int       `json:"estimated_total"`
	Percent        int       `json:"percent"`
	ETA            string    `json:"eta"`
	Message        string    `json:"message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SnapshotFromEvent builds a running snapshot from a progress event.
func SnapshotFromEvent(e session.Event, now time.Time) Snapshot {
	state := session.StateRunning
	if e.Done {
		state = session.StateCompleted
	}
	return Snapshot{
		SessionID:      e.SessionID,
		HandlerID:      e.HandlerID,
		State:          state.String(),
		Batch:          e.Batch,
		Processed:      e.Processed,
		Failed:         e.Failed,
		Total:          e.Total,
		EstimatedTotal: e.EstimatedTotal,
		Percent:        e.Percent,
		ETA:            e.ETAText,
		UpdatedAt:      now,
	}
}

// Finalize folds final stats into the snapshot.
func (s *Snapshot) Finalize(stats session.Stats, now time.Time) {
	s.SessionID = stats.SessionID
	s.HandlerID = stats.HandlerID
	s.State = stats.State.String()
	s.Batch = stats.Batches
	s.Processed = stats.Processed
	s.Failed = stats.Failed
	s.Total = stats.Total
	s.ETA = ""
	s.Message = stats.Message
	s.UpdatedAt = now
	if stats.State == session.StateCompleted {
		s.Percent = 100
	}
}

// Terminal reports whether the published session has finished.
func (s *Snapshot) Terminal() bool {
	var st session.State
	if err := st.UnmarshalText([]byte(s.State)); err != nil {
		return false
	}
	return st.Terminal()
}

// IsStale returns true if a running snapshot is older than maxAge.
func (s *Snapshot) IsStale(maxAge time.Duration, now time.Time) bool {
	return !s.Terminal() && now.Sub(s.UpdatedAt) > maxAge
}
