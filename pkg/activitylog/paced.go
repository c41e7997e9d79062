package activitylog

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPaceInterval is the spacing between paced entries.
const DefaultPaceInterval = 50 * time.Millisecond

// Paced spaces entries out for presentation, so a watching operator sees
// items arrive one by one instead of a whole batch at once. It delays
// delivery to the wrapped sink and nothing else.
type Paced struct {
	next    Sink
	limiter *rate.Limiter
}

// NewPaced wraps next with one entry per interval. A non-positive interval
// disables pacing.
func NewPaced(next Sink, interval time.Duration) *Paced {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Paced{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Append waits for the pacing slot, then forwards entry.
func (p *Paced) Append(ctx context.Context, entry Entry) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.next.Append(ctx, entry)
}
