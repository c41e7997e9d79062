package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/batchsync/pkg/session"
	"github.com/rs/zerolog"
)

func TestKeys(t *testing.T) {
	if got := StatusKey("posts"); got != "batchsync:status:posts" {
		t.Errorf("StatusKey() = %q", got)
	}
	if got := AbortKey("posts"); got != "batchsync:abort:posts" {
		t.Errorf("AbortKey() = %q", got)
	}
}

func TestSnapshotFromEvent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := session.Event{
		SessionID:      "s1",
		HandlerID:      "posts",
		Batch:          2,
		Processed:      18,
		Failed:         2,
		Total:          20,
		EstimatedTotal: 40,
		Percent:        50,
		ETAText:        "12s",
	}

	snap := SnapshotFromEvent(e, now)
	if snap.State != "running" {
		t.Errorf("State = %q, want running", snap.State)
	}
	if snap.Total != 20 || snap.Percent != 50 || snap.ETA != "12s" || snap.Batch != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if !snap.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", snap.UpdatedAt, now)
	}

	e.Done = true
	if got := SnapshotFromEvent(e, now).State; got != "completed" {
		t.Errorf("State = %q, want completed", got)
	}
}

func TestSnapshotFinalize(t *testing.T) {
	tests := []struct {
		name        string
		state       session.State
		wantPercent int
	}{
		{name: "completed reports 100", state: session.StateCompleted, wantPercent: 100},
		{name: "aborted keeps last percent", state: session.StateAborted, wantPercent: 50},
		{name: "failed keeps last percent", state: session.StateFailed, wantPercent: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{HandlerID: "posts", State: "running", Percent: 50, ETA: "10s"}
			snap.Finalize(session.Stats{
				SessionID: "s1",
				HandlerID: "posts",
				State:     tt.state,
				Processed: 20,
				Batches:   2,
				Total:     20,
				Message:   "done",
			}, time.Now())

			if snap.Percent != tt.wantPercent {
				t.Errorf("Percent = %d, want %d", snap.Percent, tt.wantPercent)
			}
			if snap.ETA != "" {
				t.Errorf("ETA = %q, want empty", snap.ETA)
			}
			if !snap.Terminal() {
				t.Error("finalized snapshot must be terminal")
			}
			if snap.Message != "done" || snap.Batch != 2 {
				t.Errorf("unexpected snapshot %+v", snap)
			}
		})
	}
}

func TestSnapshotIsStale(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		snap     Snapshot
		expected bool
	}{
		{
			name:     "fresh running",
			snap:     Snapshot{State: "running", UpdatedAt: now.Add(-time.Minute)},
			expected: false,
		},
		{
			name:     "old running",
			snap:     Snapshot{State: "running", UpdatedAt: now.Add(-time.Hour)},
			expected: true,
		},
		{
			name:     "old completed is never stale",
			snap:     Snapshot{State: "completed", UpdatedAt: now.Add(-time.Hour)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.IsStale(DefaultStaleAfter, now); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

type fakePublisher struct {
	published []Snapshot
	cleared   []string
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, snap Snapshot) error {
	f.published = append(f.published, snap)
	return f.err
}

func (f *fakePublisher) ClearAbort(_ context.Context, handlerID string) error {
	f.cleared = append(f.cleared, handlerID)
	return f.err
}

func TestObserver(t *testing.T) {
	pub := &fakePublisher{}
	o := &Observer{tracker: pub, logger: zerolog.Nop(), now: time.Now}

	o.OnProgress(session.Event{SessionID: "s1", HandlerID: "posts", Processed: 10, Total: 10, Percent: 25})
	o.OnFinish(session.Stats{SessionID: "s1", HandlerID: "posts", State: session.StateAborted, Processed: 10, Total: 10, Batches: 1}, nil)

	if len(pub.published) != 2 {
		t.Fatalf("published %d snapshots, want 2", len(pub.published))
	}
	final := pub.published[1]
	if final.State != "aborted" || final.Percent != 25 {
		t.Errorf("unexpected final snapshot %+v", final)
	}
	if len(pub.cleared) != 1 || pub.cleared[0] != "posts" {
		t.Errorf("cleared = %v, want [posts]", pub.cleared)
	}
}

func TestObserver_ErrorsDoNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	o := &Observer{tracker: pub, logger: zerolog.Nop(), now: time.Now}

	o.OnProgress(session.Event{HandlerID: "posts"})
	o.OnFinish(session.Stats{HandlerID: "posts", State: session.StateFailed}, errors.New("boom"))

	if len(pub.published) != 2 {
		t.Errorf("published %d snapshots, want 2", len(pub.published))
	}
}
