// Package batch defines the data model shared by the registry, executor,
// transports and the session orchestrator.
package batch

import (
	"context"
	"slices"
)

// Options are per-run handler options. Values must be JSON-encodable when
// the HTTP transport is used.
type Options map[string]any

// Merge returns a new Options holding defaults overlaid by overrides.
// The merge is shallow: override keys replace default keys wholesale.
// Neither input is modified.
func Merge(defaults, overrides Options) Options {
	merged := make(Options, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Scopes is the set of capabilities held by a caller.
type Scopes []string

// Has reports whether the scopes satisfy the required capability.
// An empty requirement is satisfied by every caller.
func (s Scopes) Has(required string) bool {
	if required == "" {
		return true
	}
	return slices.Contains(s, required)
}

// ProcessFunc processes one page of work starting after cursor.
// An empty cursor means the first page.
type ProcessFunc func(ctx context.Context, cursor string, limit int, opts Options) (*BatchResult, error)

// Item is one processed unit reported by a handler.
type Item struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Error       *string `json:"error,omitempty"`
}

// OK returns a successfully processed item.
func OK(id, displayName string) Item {
	return Item{ID: id, DisplayName: displayName}
}

// Failed returns an item that failed with the given message.
func Failed(id, displayName, message string) Item {
	return Item{ID: id, DisplayName: displayName, Error: &message}
}

// HasFailed reports whether the item carries an error.
func (i Item) HasFailed() bool {
	return i.Error != nil
}

// ErrorMessage returns the item error, or "" for successful items.
func (i Item) ErrorMessage() string {
	if i.Error == nil {
		return ""
	}
	return *i.Error
}

// BatchResult is the raw result returned by a handler.
//
// Required keys are modelled as nil-able so a result that omits them can be
// told apart from one that sets them to their zero value: a nil Items slice,
// HasMore or LastCursor is a malformed result.
type BatchResult struct {
	Items          []Item
	HasMore        *bool
	LastCursor     *string
	EstimatedTotal *int
	ProcessedCount *int
	FailedCount    *int
}

// Page builds a well-formed BatchResult.
func Page(items []Item, hasMore bool, lastCursor string) *BatchResult {
	if items == nil {
		items = []Item{}
	}
	return &BatchResult{
		Items:      items,
		HasMore:    &hasMore,
		LastCursor: &lastCursor,
	}
}

// WithEstimatedTotal sets the handler's estimate of the total item count.
func (r *BatchResult) WithEstimatedTotal(n int) *BatchResult {
	r.EstimatedTotal = &n
	return r
}

// WithCounts sets explicit processed/failed counts, overriding the counts
// derived from Items.
func (r *BatchResult) WithCounts(processed, failed int) *BatchResult {
	r.ProcessedCount = &processed
	r.FailedCount = &failed
	return r
}

// Result is a validated, normalized batch result.
type Result struct {
	Items      []Item `json:"items"`
	HasMore    bool   `json:"has_more"`
	LastCursor string `json:"last_id"`

	// EstimatedTotal is 0 when the handler gave no estimate.
	EstimatedTotal int `json:"estimated_total,omitempty"`

	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Request is one batch request as sent over a transport.
type Request struct {
	HandlerID string
	Cursor    string
	Limit     int
	Options   Options
	Scopes    Scopes
}

// HandlerInfo is the public description of a registered handler.
type HandlerInfo struct {
	ID             string  `json:"id" yaml:"id"`
	Limit          int     `json:"limit" yaml:"limit"`
	SingularLabel  string  `json:"singular_label" yaml:"singular_label"`
	PluralLabel    string  `json:"plural_label" yaml:"plural_label"`
	RequiredScope  string  `json:"required_scope" yaml:"required_scope"`
	DefaultOptions Options `json:"default_options,omitempty" yaml:"default_options,omitempty"`
	AutoClose      bool    `json:"auto_close" yaml:"auto_close"`
	NoticeTarget   string  `json:"notice_target,omitempty" yaml:"notice_target,omitempty"`
}

// Label returns the singular or plural item label for n.
func (h HandlerInfo) Label(n int) string {
	if n == 1 {
		if h.SingularLabel != "" {
			return h.SingularLabel
		}
		return "item"
	}
	if h.PluralLabel != "" {
		return h.PluralLabel
	}
	return "items"
}
