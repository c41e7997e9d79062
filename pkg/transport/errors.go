// Package transport carries batch requests from a session to the executor
// side, either in-process (Local) or over HTTP (HTTP).
package transport

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/batchsync/pkg/batch"
)

// ErrRetryExhausted is returned when all retry attempts are exhausted.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ErrorClass represents a classification of transport failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassRateLimit represents 429 responses without an envelope.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassUnavailable represents 502/503/504 responses without an envelope.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassServer represents other 5xx responses without an envelope.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassClient represents 4xx responses without an envelope.
	ErrorClassClient ErrorClass = "client"
)

// ResponseError is a failure to deliver a batch or read its response. It
// never describes a handler outcome: those travel in the response envelope.
type ResponseError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("batch transport %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("batch transport %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ResponseError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, batch.ErrTransport) true for every ResponseError.
func (e *ResponseError) Is(target error) bool {
	return target == batch.ErrTransport
}

// shouldRetry determines if a failure class is transient.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassNetwork, ErrorClassRateLimit, ErrorClassUnavailable:
		return true
	default:
		return false
	}
}

// classifyStatus maps a status code of a response without an envelope.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == 429:
		return ErrorClassRateLimit
	case code == 502 || code == 503 || code == 504:
		return ErrorClassUnavailable
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
