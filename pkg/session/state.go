package session

import (
	"fmt"
	"time"

	"github.com/Sternrassler/batchsync/pkg/batch"
)

// State is a session's lifecycle state.
type State int32

const (
	// StateIdle is a created session that has not started. Preflight runs
	// while the session is still idle.
	StateIdle State = iota

	// StateRunning is entered once preflight succeeds and covers the
	// pagination loop.
	StateRunning

	// StateCompleted means the handler reported no more pages.
	StateCompleted

	// StateAborted means Abort took effect before the first batch or between
	// batches.
	StateAborted

	// StateFailed means preflight, transport, protocol or execution failed.
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateCompleted: "completed",
	StateAborted:   "aborted",
	StateFailed:    "failed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Stats are the final statistics of a session, produced exactly once.
type Stats struct {
	SessionID string        `json:"session_id"`
	HandlerID string        `json:"handler_id"`
	State     State         `json:"state"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
	Batches   int           `json:"batches"`
	Aborted   bool          `json:"aborted"`
	Duration  time.Duration `json:"duration"`
	Message   string        `json:"message"`
}

// Event is a progress report emitted after every accounted batch, plus one
// final event with Done set when the session completes.
type Event struct {
	SessionID      string
	HandlerID      string
	Batch          int
	Processed      int
	Failed         int
	Total          int
	EstimatedTotal int

	// Percent stays within [0, 95] while running; the final event reports 100.
	Percent int

	ETA      time.Duration
	ETAKnown bool
	ETAText  string
	Elapsed  time.Duration

	// Items are the items of this batch (empty on the final event).
	Items []batch.Item

	Done bool
}

// Observer receives session events. Calls are made from the goroutine
// running the session.
type Observer interface {
	// OnProgress is called after every accounted batch.
	OnProgress(Event)

	// OnFinish is called exactly once with the final stats. err is nil only
	// for completed and aborted sessions.
	OnFinish(Stats, error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(Event)
	Finish   func(Stats, error)
}

// OnProgress implements Observer.
func (o ObserverFuncs) OnProgress(e Event) {
	if o.Progress != nil {
		o.Progress(e)
	}
}

// OnFinish implements Observer.
func (o ObserverFuncs) OnFinish(s Stats, err error) {
	if o.Finish != nil {
		o.Finish(s, err)
	}
}

// Observers fans events out to several observers in order.
type Observers []Observer

// OnProgress implements Observer.
func (obs Observers) OnProgress(e Event) {
	for _, o := range obs {
		if o != nil {
			o.OnProgress(e)
		}
	}
}

// OnFinish implements Observer.
func (obs Observers) OnFinish(s Stats, err error) {
	for _, o := range obs {
		if o != nil {
			o.OnFinish(s, err)
		}
	}
}
