package batch

import (
	"errors"
	"fmt"
)

// Error taxonomy. Configuration and authorization errors happen before any
// batch is dispatched; protocol and execution errors end a running session.
// Item-level failures are not errors: they travel inside Result.Items.
var (
	// ErrNotFound is returned for an unregistered handler id.
	ErrNotFound = errors.New("handler not found")

	// ErrInvalidConfig is returned when a handler registration is rejected.
	ErrInvalidConfig = errors.New("invalid handler config")

	// ErrForbidden is returned when the caller lacks the handler's required scope.
	ErrForbidden = errors.New("forbidden")

	// ErrMalformedResult is returned when a handler result violates the result contract.
	ErrMalformedResult = errors.New("malformed batch result")

	// ErrHandlerExecution matches every *ExecutionError via errors.Is.
	ErrHandlerExecution = errors.New("handler execution failed")

	// ErrInvalidRequest is returned for a batch request the server could not parse.
	ErrInvalidRequest = errors.New("invalid batch request")

	// ErrTransport is returned when a batch could not be delivered or its
	// response could not be read.
	ErrTransport = errors.New("transport failure")
)

// ExecutionError reports a failure raised by a handler's ProcessFunc.
type ExecutionError struct {
	HandlerID string
	Cursor    string
	Err       error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("handler %q failed at cursor %q", e.HandlerID, e.Cursor)
	}
	return fmt.Sprintf("handler %q failed at cursor %q: %v", e.HandlerID, e.Cursor, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrHandlerExecution) true for every ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrHandlerExecution
}

// Code is the wire code for an error, used in failure envelopes.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeForbidden        Code = "forbidden"
	CodeInvalidConfig    Code = "invalid_config"
	CodeInvalidRequest   Code = "invalid_request"
	CodeMalformedResult  Code = "malformed_result"
	CodeHandlerExecution Code = "handler_error"
	CodeInternal         Code = "internal"
)

// CodeOf classifies err into a wire code.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrMalformedResult):
		return CodeMalformedResult
	case errors.Is(err, ErrHandlerExecution):
		return CodeHandlerExecution
	default:
		return CodeInternal
	}
}

// Sentinel returns the sentinel error a wire code stands for, or nil for
// codes without one.
func (c Code) Sentinel() error {
	switch c {
	case CodeNotFound:
		return ErrNotFound
	case CodeForbidden:
		return ErrForbidden
	case CodeInvalidConfig:
		return ErrInvalidConfig
	case CodeInvalidRequest:
		return ErrInvalidRequest
	case CodeMalformedResult:
		return ErrMalformedResult
	case CodeHandlerExecution:
		return ErrHandlerExecution
	default:
		return nil
	}
}
