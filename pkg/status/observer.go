package status

import (
	"context"
	"time"

	"github.com/Sternrassler/batchsync/pkg/session"
	"github.com/rs/zerolog"
)

// publishTimeout bounds each Redis write made from an observer callback.
const publishTimeout = 2 * time.Second

// publisher is the subset of Tracker the observer needs.
type publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
	ClearAbort(ctx context.Context, handlerID string) error
}

// Observer publishes session events to a Tracker. Publish failures are
// logged and never affect the session.
type Observer struct {
	tracker publisher
	logger  zerolog.Logger
	now     func() time.Time
	last    Snapshot
}

// NewObserver creates an observer for one session.
func NewObserver(t *Tracker) *Observer {
	return &Observer{
		tracker: t,
		logger:  t.logger,
		now:     time.Now,
	}
}

// OnProgress implements session.Observer.
func (o *Observer) OnProgress(e session.Event) {
	o.last = SnapshotFromEvent(e, o.now())
	o.publish(o.last)
}

// OnFinish implements session.Observer. It publishes the final state and
// drops any abort request left for the handler.
func (o *Observer) OnFinish(stats session.Stats, _ error) {
	o.last.Finalize(stats, o.now())
	o.publish(o.last)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.tracker.ClearAbort(ctx, stats.HandlerID); err != nil {
		o.logger.Warn().Err(err).Str("handler", stats.HandlerID).Msg("Failed to clear abort request")
	}
}

func (o *Observer) publish(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.tracker.Publish(ctx, snap); err != nil {
		o.logger.Warn().Err(err).Str("handler", snap.HandlerID).Msg("Failed to publish session status")
	}
}
