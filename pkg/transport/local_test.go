package transport

import (
	"context"
	"testing"

	"github.com/Sternrassler/batchsync/internal/testutil"
	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/executor"
	"github.com/Sternrassler/batchsync/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T, fn batch.ProcessFunc) *Local {
	t.Helper()

	reg := registry.New(zerolog.Nop())
	cfg := registry.DefaultHandlerConfig(fn)
	cfg.Limit = 10
	cfg.SingularLabel = "post"
	cfg.PluralLabel = "posts"
	cfg.DefaultOptions = batch.Options{"mode": "fast"}
	require.NoError(t, reg.Register("posts", cfg))

	return NewLocal(reg, executor.New(executor.DefaultConfig(), zerolog.Nop()))
}

func TestLocal_Preflight(t *testing.T) {
	l := newLocal(t, testutil.Pages(5))

	info, err := l.Preflight(context.Background(), "posts", batch.Scopes{registry.DefaultScope})
	require.NoError(t, err)
	assert.Equal(t, "posts", info.ID)
	assert.Equal(t, 10, info.Limit)

	_, err = l.Preflight(context.Background(), "posts", nil)
	require.ErrorIs(t, err, batch.ErrForbidden)

	_, err = l.Preflight(context.Background(), "missing", batch.Scopes{registry.DefaultScope})
	require.ErrorIs(t, err, batch.ErrNotFound)
}

func TestLocal_Dispatch(t *testing.T) {
	rec := testutil.NewRecorder(testutil.Pages(15, 3))
	l := newLocal(t, rec.Process)

	res, err := l.Dispatch(context.Background(), batch.Request{
		HandlerID: "posts",
		Limit:     10,
		Options:   batch.Options{"mode": "full"},
		Scopes:    batch.Scopes{registry.DefaultScope},
	})
	require.NoError(t, err)

	assert.True(t, res.HasMore)
	assert.Equal(t, "10", res.LastCursor)
	assert.Equal(t, 9, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 15, res.EstimatedTotal)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "full", calls[0].Options["mode"], "caller options win")
}

func TestLocal_DispatchRechecksScope(t *testing.T) {
	rec := testutil.NewRecorder(testutil.Pages(5))
	l := newLocal(t, rec.Process)

	_, err := l.Dispatch(context.Background(), batch.Request{HandlerID: "posts"})
	require.ErrorIs(t, err, batch.ErrForbidden)
	assert.Empty(t, rec.Calls())
}
