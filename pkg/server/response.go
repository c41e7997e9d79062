package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/session"
	"github.com/Sternrassler/batchsync/pkg/transport"
)

// CodeConflict reports a handler that already runs a session on this server.
const CodeConflict batch.Code = "conflict"

// envelope is the response body of every batch endpoint.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteSuccess writes a success envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSONResponse(w, envelope{Success: true, Data: data}, http.StatusOK)
}

// WriteFailure writes a failure envelope for err with the matching status.
func WriteFailure(w http.ResponseWriter, err error) {
	code := batch.CodeOf(err)
	if errors.Is(err, session.ErrSessionInProgress) {
		code = CodeConflict
	}
	WriteJSONResponse(w, envelope{
		Success: false,
		Data:    transport.ErrorData{Message: err.Error(), Code: code},
	}, StatusFor(code))
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code batch.Code) int {
	switch code {
	case batch.CodeInvalidRequest:
		return http.StatusBadRequest
	case batch.CodeForbidden:
		return http.StatusForbidden
	case batch.CodeNotFound:
		return http.StatusNotFound
	case batch.CodeMalformedResult:
		return http.StatusBadGateway
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
