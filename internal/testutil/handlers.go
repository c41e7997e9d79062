package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Sternrassler/batchsync/pkg/batch"
)

// Call is one recorded invocation of a process function.
type Call struct {
	Cursor  string
	Limit   int
	Options batch.Options
}

// Recorder wraps a process function and records its calls.
type Recorder struct {
	fn    batch.ProcessFunc
	mu    sync.Mutex
	calls []Call
}

// NewRecorder wraps fn.
func NewRecorder(fn batch.ProcessFunc) *Recorder {
	return &Recorder{fn: fn}
}

// Process implements batch.ProcessFunc.
func (r *Recorder) Process(ctx context.Context, cursor string, limit int, opts batch.Options) (*batch.BatchResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Cursor: cursor, Limit: limit, Options: opts})
	r.mu.Unlock()
	return r.fn(ctx, cursor, limit, opts)
}

// Calls returns the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Pages returns a process function over items 1..total. The cursor is the
// last id of the previous page. Items whose id is listed in failing fail.
func Pages(total int, failing ...int) batch.ProcessFunc {
	failed := make(map[int]bool, len(failing))
	for _, id := range failing {
		failed[id] = true
	}

	return func(_ context.Context, cursor string, limit int, _ batch.Options) (*batch.BatchResult, error) {
		start := 1
		if cursor != "" {
			last, err := strconv.Atoi(cursor)
			if err != nil {
				return nil, fmt.Errorf("invalid cursor %q", cursor)
			}
			start = last + 1
		}

		end := min(start+limit-1, total)
		items := make([]batch.Item, 0, max(end-start+1, 0))
		for id := start; id <= end; id++ {
			name := fmt.Sprintf("Item %d", id)
			if failed[id] {
				items = append(items, batch.Failed(strconv.Itoa(id), name, "failed"))
			} else {
				items = append(items, batch.OK(strconv.Itoa(id), name))
			}
		}

		lastCursor := cursor
		if end >= start {
			lastCursor = strconv.Itoa(end)
		}
		return batch.Page(items, end < total, lastCursor).WithEstimatedTotal(total), nil
	}
}

// Script returns a process function that returns the given results in
// order, and an error once they are exhausted.
func Script(results ...func() (*batch.BatchResult, error)) batch.ProcessFunc {
	var mu sync.Mutex
	next := 0
	return func(context.Context, string, int, batch.Options) (*batch.BatchResult, error) {
		mu.Lock()
		i := next
		next++
		mu.Unlock()

		if i >= len(results) {
			return nil, fmt.Errorf("script exhausted after %d calls", len(results))
		}
		return results[i]()
	}
}
