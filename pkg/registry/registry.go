// Package registry maps handler ids to their processing configuration.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/rs/zerolog"
)

// DefaultScope is the capability required by handlers that do not set one.
const DefaultScope = "batch:run"

// HandlerConfig lists every option a handler can be registered with.
type HandlerConfig struct {
	// Process handles one page of work (REQUIRED).
	Process batch.ProcessFunc

	// Limit is the page size requested per batch (must be > 0).
	Limit int

	// Item labels used in progress and summary messages.
	SingularLabel string
	PluralLabel   string

	// RequiredScope is the capability a caller must hold ("" = anyone).
	RequiredScope string

	// DefaultOptions are merged under caller options on every batch.
	DefaultOptions batch.Options

	// AutoClose asks the presenting UI to dismiss itself on success.
	AutoClose bool

	// NoticeTarget is an opaque selector where the UI renders notices.
	NoticeTarget string
}

// DefaultHandlerConfig returns a config with every option at its default.
func DefaultHandlerConfig(fn batch.ProcessFunc) HandlerConfig {
	return HandlerConfig{
		Process:        fn,
		Limit:          50,
		SingularLabel:  "item",
		PluralLabel:    "items",
		RequiredScope:  DefaultScope,
		DefaultOptions: batch.Options{},
		AutoClose:      false,
	}
}

// Handler is a registered handler. It is immutable once registered.
type Handler struct {
	id     string
	config HandlerConfig
}

// ID returns the handler id.
func (h *Handler) ID() string { return h.id }

// Limit returns the configured page size.
func (h *Handler) Limit() int { return h.config.Limit }

// Process returns the processing function.
func (h *Handler) Process() batch.ProcessFunc { return h.config.Process }

// DefaultOptions returns a copy of the handler's default options.
func (h *Handler) DefaultOptions() batch.Options {
	return maps.Clone(h.config.DefaultOptions)
}

// Info returns the public description of the handler.
func (h *Handler) Info() batch.HandlerInfo {
	return batch.HandlerInfo{
		ID:             h.id,
		Limit:          h.config.Limit,
		SingularLabel:  h.config.SingularLabel,
		PluralLabel:    h.config.PluralLabel,
		RequiredScope:  h.config.RequiredScope,
		DefaultOptions: h.DefaultOptions(),
		AutoClose:      h.config.AutoClose,
		NoticeTarget:   h.config.NoticeTarget,
	}
}

// Registry holds handlers keyed by id.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]*Handler),
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// Register validates cfg and stores it under id. Registering an id twice
// replaces the earlier handler.
func (r *Registry) Register(id string, cfg HandlerConfig) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", batch.ErrInvalidConfig)
	}
	if cfg.Process == nil {
		return fmt.Errorf("%w: handler %q has no process function", batch.ErrInvalidConfig, id)
	}
	if cfg.Limit <= 0 {
		return fmt.Errorf("%w: handler %q limit must be > 0 (got %d)", batch.ErrInvalidConfig, id, cfg.Limit)
	}

	// Own the option map so later caller mutations cannot leak in
	cfg.DefaultOptions = maps.Clone(cfg.DefaultOptions)
	if cfg.DefaultOptions == nil {
		cfg.DefaultOptions = batch.Options{}
	}

	r.mu.Lock()
	_, replaced := r.handlers[id]
	r.handlers[id] = &Handler{id: id, config: cfg}
	r.mu.Unlock()

	if replaced {
		r.logger.Warn().Str("handler", id).Msg("Handler re-registered, previous config replaced")
	} else {
		r.logger.Debug().
			Str("handler", id).
			Int("limit", cfg.Limit).
			Str("required_scope", cfg.RequiredScope).
			Msg("Handler registered")
	}

	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(id string, cfg HandlerConfig) {
	if err := r.Register(id, cfg); err != nil {
		panic(err)
	}
}

// Resolve returns the handler registered under id.
func (r *Registry) Resolve(id string) (*Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", batch.ErrNotFound, id)
	}
	return h, nil
}

// Authorize resolves id and checks that scopes satisfy its required scope.
func (r *Registry) Authorize(id string, scopes batch.Scopes) (*Handler, error) {
	h, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}

	if !scopes.Has(h.config.RequiredScope) {
		r.logger.Warn().
			Str("handler", id).
			Str("required_scope", h.config.RequiredScope).
			Msg("Caller lacks required scope")
		return nil, fmt.Errorf("%w: handler %q requires scope %q", batch.ErrForbidden, id, h.config.RequiredScope)
	}

	return h, nil
}

// List returns the info of every handler, sorted by id.
func (r *Registry) List() []batch.HandlerInfo {
	r.mu.RLock()
	ids := slices.Sorted(maps.Keys(r.handlers))
	infos := make([]batch.HandlerInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, r.handlers[id].Info())
	}
	r.mu.RUnlock()

	return infos
}
