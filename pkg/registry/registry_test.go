package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/rs/zerolog"
)

func noopProcess(context.Context, string, int, batch.Options) (*batch.BatchResult, error) {
	return batch.Page(nil, false, ""), nil
}

func TestDefaultHandlerConfig(t *testing.T) {
	cfg := DefaultHandlerConfig(noopProcess)

	if cfg.Limit != 50 {
		t.Errorf("Limit = %d, want 50", cfg.Limit)
	}
	if cfg.SingularLabel != "item" || cfg.PluralLabel != "items" {
		t.Errorf("labels = %q/%q, want item/items", cfg.SingularLabel, cfg.PluralLabel)
	}
	if cfg.RequiredScope != DefaultScope {
		t.Errorf("RequiredScope = %q, want %q", cfg.RequiredScope, DefaultScope)
	}
	if cfg.AutoClose {
		t.Error("AutoClose should default to false")
	}
	if cfg.DefaultOptions == nil {
		t.Error("DefaultOptions should be an empty map, not nil")
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		mutate   func(*HandlerConfig)
		errorMsg string
	}{
		{
			name:   "valid config",
			id:     "posts",
			mutate: func(*HandlerConfig) {},
		},
		{
			name:     "empty id",
			id:       "",
			mutate:   func(*HandlerConfig) {},
			errorMsg: "invalid handler config: id is required",
		},
		{
			name:     "nil process",
			id:       "posts",
			mutate:   func(c *HandlerConfig) { c.Process = nil },
			errorMsg: `invalid handler config: handler "posts" has no process function`,
		},
		{
			name:     "zero limit",
			id:       "posts",
			mutate:   func(c *HandlerConfig) { c.Limit = 0 },
			errorMsg: `invalid handler config: handler "posts" limit must be > 0 (got 0)`,
		},
		{
			name:     "negative limit",
			id:       "posts",
			mutate:   func(c *HandlerConfig) { c.Limit = -5 },
			errorMsg: `invalid handler config: handler "posts" limit must be > 0 (got -5)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(zerolog.Nop())
			cfg := DefaultHandlerConfig(noopProcess)
			tt.mutate(&cfg)

			err := reg.Register(tt.id, cfg)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}

			if !errors.Is(err, batch.ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
			}
			if _, err := reg.Resolve(tt.id); !errors.Is(err, batch.ErrNotFound) {
				t.Error("Rejected handler must not be stored")
			}
		})
	}
}

func TestRegister_DuplicateOverwrites(t *testing.T) {
	reg := New(zerolog.Nop())

	first := DefaultHandlerConfig(noopProcess)
	first.Limit = 10
	second := DefaultHandlerConfig(noopProcess)
	second.Limit = 20

	if err := reg.Register("posts", first); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("posts", second); err != nil {
		t.Fatal(err)
	}

	h, err := reg.Resolve("posts")
	if err != nil {
		t.Fatal(err)
	}
	if h.Limit() != 20 {
		t.Errorf("Limit = %d, want 20 (last registration wins)", h.Limit())
	}
	if len(reg.List()) != 1 {
		t.Errorf("List() has %d handlers, want 1", len(reg.List()))
	}
}

func TestRegister_OwnsDefaultOptions(t *testing.T) {
	reg := New(zerolog.Nop())
	cfg := DefaultHandlerConfig(noopProcess)
	cfg.DefaultOptions = batch.Options{"mode": "full"}

	reg.MustRegister("posts", cfg)
	cfg.DefaultOptions["mode"] = "changed"

	h, _ := reg.Resolve("posts")
	if h.DefaultOptions()["mode"] != "full" {
		t.Error("caller mutation leaked into registered handler")
	}

	// Returned copies must not leak back either
	h.DefaultOptions()["mode"] = "changed"
	if h.DefaultOptions()["mode"] != "full" {
		t.Error("DefaultOptions() must return a copy")
	}
}

func TestMustRegister_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustRegister should panic on invalid config")
		}
	}()
	New(zerolog.Nop()).MustRegister("bad", HandlerConfig{})
}

func TestResolve_NotFound(t *testing.T) {
	reg := New(zerolog.Nop())

	_, err := reg.Resolve("missing")
	if !errors.Is(err, batch.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	reg := New(zerolog.Nop())

	restricted := DefaultHandlerConfig(noopProcess)
	restricted.RequiredScope = "posts:write"
	reg.MustRegister("posts", restricted)

	open := DefaultHandlerConfig(noopProcess)
	open.RequiredScope = ""
	reg.MustRegister("public", open)

	tests := []struct {
		name    string
		id      string
		scopes  batch.Scopes
		wantErr error
	}{
		{"granted", "posts", batch.Scopes{"posts:write"}, nil},
		{"missing scope", "posts", batch.Scopes{"posts:read"}, batch.ErrForbidden},
		{"no scopes", "posts", nil, batch.ErrForbidden},
		{"open handler", "public", nil, nil},
		{"unknown handler", "ghost", batch.Scopes{"posts:write"}, batch.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := reg.Authorize(tt.id, tt.scopes)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if h.ID() != tt.id {
					t.Errorf("ID = %q, want %q", h.ID(), tt.id)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestList_SortedInfo(t *testing.T) {
	reg := New(zerolog.Nop())

	for _, id := range []string{"users", "comments", "posts"} {
		cfg := DefaultHandlerConfig(noopProcess)
		cfg.SingularLabel = id[:len(id)-1]
		cfg.PluralLabel = id
		cfg.AutoClose = id == "posts"
		reg.MustRegister(id, cfg)
	}

	infos := reg.List()
	if len(infos) != 3 {
		t.Fatalf("List() = %d entries, want 3", len(infos))
	}

	want := []string{"comments", "posts", "users"}
	for i, info := range infos {
		if info.ID != want[i] {
			t.Errorf("infos[%d].ID = %q, want %q", i, info.ID, want[i])
		}
	}
	if !infos[1].AutoClose || infos[1].SingularLabel != "post" {
		t.Errorf("unexpected info for posts: %+v", infos[1])
	}
}
