package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/batchsync/pkg/batch"
)

// ErrSessionInProgress is returned when a handler already has a running
// session in this orchestrator.
var ErrSessionInProgress = errors.New("session in progress")

// Orchestrator starts sessions against one transport and keeps track of the
// ones still running, so they can be looked up and aborted by id. Sessions
// for different handlers run independently; a handler runs at most one
// session at a time.
type Orchestrator struct {
	transport Transport
	config    Config

	mu     sync.RWMutex
	active map[string]*Session // by session id
}

// NewOrchestrator creates an orchestrator. cfg is applied to every session
// it starts.
func NewOrchestrator(transport Transport, cfg Config) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		config:    cfg,
		active:    make(map[string]*Session),
	}
}

// Start creates and registers a session for handlerID without running it.
// The caller runs it with Session.Run. It is unregistered when it reaches a
// terminal state, which includes being aborted before Run is called. Extra
// observers receive events in addition to the orchestrator's own.
func (o *Orchestrator) Start(handlerID string, scopes batch.Scopes, opts batch.Options, observers ...Observer) (*Session, error) {
	return o.start(handlerID, scopes, opts, observers)
}

// Run starts a session for handlerID and runs it to completion. Extra
// observers receive events in addition to the orchestrator's own.
func (o *Orchestrator) Run(ctx context.Context, handlerID string, scopes batch.Scopes, opts batch.Options, observers ...Observer) (Stats, error) {
	s, err := o.start(handlerID, scopes, opts, observers)
	if err != nil {
		return Stats{HandlerID: handlerID, State: StateFailed}, err
	}
	return s.Run(ctx)
}

func (o *Orchestrator) start(handlerID string, scopes batch.Scopes, opts batch.Options, observers []Observer) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, s := range o.active {
		if s.handlerID == handlerID {
			return nil, fmt.Errorf("%w: handler %q (session %s)", ErrSessionInProgress, handlerID, s.id)
		}
	}

	cfg := o.config
	var s *Session
	unregister := ObserverFuncs{Finish: func(Stats, error) { o.remove(s.id) }}
	obs := append(Observers{o.config.Observer}, observers...)
	cfg.Observer = append(obs, unregister)

	s = New(o.transport, handlerID, scopes, opts, cfg)
	o.active[s.id] = s
	return s, nil
}

func (o *Orchestrator) remove(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// Get returns a running session by id.
func (o *Orchestrator) Get(id string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.active[id]
	return s, ok
}

// Abort aborts the running session with the given id. It returns false when
// no such session is running.
func (o *Orchestrator) Abort(id string) bool {
	s, ok := o.Get(id)
	if !ok {
		return false
	}
	return s.Abort()
}

// AbortHandler aborts the running session of a handler, if any.
func (o *Orchestrator) AbortHandler(handlerID string) bool {
	o.mu.RLock()
	var target *Session
	for _, s := range o.active {
		if s.handlerID == handlerID {
			target = s
			break
		}
	}
	o.mu.RUnlock()

	if target == nil {
		return false
	}
	return target.Abort()
}

// Active returns the ids of running sessions.
func (o *Orchestrator) Active() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}
