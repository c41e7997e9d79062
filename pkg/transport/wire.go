package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/executor"
)

// Form fields and headers of the batch endpoint.
const (
	FieldAction  = "action"
	FieldCursor  = "cursor"
	FieldLimit   = "limit"
	FieldOptions = "options"

	// HeaderScopes carries the caller's scopes, comma separated.
	HeaderScopes = "X-Batch-Scopes"
)

// Envelope wraps every response of the batch server.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// ErrorData is the payload of a failure envelope.
type ErrorData struct {
	Message string     `json:"message"`
	Code    batch.Code `json:"code"`
}

// wireResult mirrors batch.Result with every key optional, so a response
// that omits one is caught by executor.Normalize.
type wireResult struct {
	Items          []batch.Item `json:"items"`
	HasMore        *bool        `json:"has_more"`
	LastCursor     *string      `json:"last_id"`
	EstimatedTotal *int         `json:"estimated_total"`
	Processed      *int         `json:"processed"`
	Failed         *int         `json:"failed"`
}

// EncodeRequest builds the form body of a batch request.
func EncodeRequest(req batch.Request) (url.Values, error) {
	form := url.Values{}
	form.Set(FieldAction, req.HandlerID)
	form.Set(FieldCursor, req.Cursor)
	form.Set(FieldLimit, strconv.Itoa(req.Limit))

	if len(req.Options) > 0 {
		raw, err := json.Marshal(req.Options)
		if err != nil {
			return nil, fmt.Errorf("encode options: %w", err)
		}
		form.Set(FieldOptions, string(raw))
	}
	return form, nil
}

// DecodeRequest parses a batch request from an incoming form post. Errors
// wrap batch.ErrInvalidRequest.
func DecodeRequest(r *http.Request) (batch.Request, error) {
	if err := r.ParseForm(); err != nil {
		return batch.Request{}, fmt.Errorf("%w: %v", batch.ErrInvalidRequest, err)
	}

	req := batch.Request{
		HandlerID: strings.TrimSpace(r.PostForm.Get(FieldAction)),
		Cursor:    r.PostForm.Get(FieldCursor),
		Scopes:    ParseScopes(r.Header.Get(HeaderScopes)),
	}
	if req.HandlerID == "" {
		return batch.Request{}, fmt.Errorf("%w: missing %s", batch.ErrInvalidRequest, FieldAction)
	}

	if raw := r.PostForm.Get(FieldLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return batch.Request{}, fmt.Errorf("%w: invalid %s %q", batch.ErrInvalidRequest, FieldLimit, raw)
		}
		req.Limit = limit
	}

	if raw := r.PostForm.Get(FieldOptions); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Options); err != nil {
			return batch.Request{}, fmt.Errorf("%w: invalid %s: %v", batch.ErrInvalidRequest, FieldOptions, err)
		}
	}
	return req, nil
}

// ParseScopes splits a scopes header value.
func ParseScopes(header string) batch.Scopes {
	var scopes batch.Scopes
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// FormatScopes joins scopes for the scopes header.
func FormatScopes(scopes batch.Scopes) string {
	return strings.Join(scopes, ",")
}

// decodeResult validates the data of a success envelope as a batch result.
func decodeResult(data json.RawMessage) (*batch.Result, error) {
	var wr wireResult
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, fmt.Errorf("%w: %v", batch.ErrMalformedResult, err)
	}
	return executor.Normalize(&batch.BatchResult{
		Items:          wr.Items,
		HasMore:        wr.HasMore,
		LastCursor:     wr.LastCursor,
		EstimatedTotal: wr.EstimatedTotal,
		ProcessedCount: wr.Processed,
		FailedCount:    wr.Failed,
	})
}

// remoteError rebuilds the error a failure envelope stands for.
func remoteError(data json.RawMessage, req batch.Request) error {
	var ed ErrorData
	if err := json.Unmarshal(data, &ed); err != nil || ed.Code == "" {
		return fmt.Errorf("%w: unreadable failure envelope", batch.ErrMalformedResult)
	}

	switch ed.Code {
	case batch.CodeHandlerExecution:
		return &batch.ExecutionError{HandlerID: req.HandlerID, Cursor: req.Cursor, Err: errors.New(ed.Message)}
	case batch.CodeInternal:
		return fmt.Errorf("%w: server error: %s", batch.ErrTransport, ed.Message)
	}

	if sentinel := ed.Code.Sentinel(); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, ed.Message)
	}
	return fmt.Errorf("%w: unknown error code %q: %s", batch.ErrTransport, ed.Code, ed.Message)
}
