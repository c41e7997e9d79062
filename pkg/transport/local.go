package transport

import (
	"context"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/executor"
	"github.com/Sternrassler/batchsync/pkg/registry"
)

// Local dispatches batches in-process to a registry and executor.
type Local struct {
	registry *registry.Registry
	executor *executor.Executor
}

// NewLocal creates an in-process transport.
func NewLocal(reg *registry.Registry, exec *executor.Executor) *Local {
	return &Local{registry: reg, executor: exec}
}

// Preflight resolves and authorizes the handler.
func (l *Local) Preflight(_ context.Context, handlerID string, scopes batch.Scopes) (*batch.HandlerInfo, error) {
	h, err := l.registry.Authorize(handlerID, scopes)
	if err != nil {
		return nil, err
	}
	info := h.Info()
	return &info, nil
}

// Dispatch authorizes the request and executes one batch.
func (l *Local) Dispatch(ctx context.Context, req batch.Request) (*batch.Result, error) {
	h, err := l.registry.Authorize(req.HandlerID, req.Scopes)
	if err != nil {
		return nil, err
	}
	return l.executor.Execute(ctx, h, req.Cursor, req.Limit, req.Options)
}
