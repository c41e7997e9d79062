package activitylog

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept before the oldest is dropped.
const DefaultCapacity = 100

// TimestampFormat is the timestamp layout used by Export.
const TimestampFormat = "15:04:05"

// Status classifies an entry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
)

// Entry is one log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// String renders the entry as "<timestamp> <message>[ - <detail>]".
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Time.Format(TimestampFormat))
	b.WriteByte(' ')
	b.WriteString(e.Message)
	if e.Detail != "" {
		b.WriteString(" - ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Sink receives log entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// Log is a capped, ordered, in-memory activity log. It is safe for
// concurrent use.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// New creates a log holding at most capacity entries. Capacity is clamped to
// DefaultCapacity, which is also used when capacity <= 0.
func New(capacity int) *Log {
	capacity = clampCapacity(capacity)
	return &Log{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

func clampCapacity(capacity int) int {
	if capacity <= 0 || capacity > DefaultCapacity {
		return DefaultCapacity
	}
	return capacity
}

// Append adds entry, dropping the oldest entry when the log is full.
func (l *Log) Append(_ context.Context, entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a copy of the entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear removes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Export renders every entry, oldest first, newline-joined.
func (l *Log) Export() string {
	return Export(l.Entries())
}

// Export renders entries newline-joined in the given order.
func Export(entries []Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// Multi fans entries out to several sinks. Every sink is attempted; the
// first error is returned.
type Multi []Sink

// Append implements Sink.
func (m Multi) Append(ctx context.Context, entry Entry) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
