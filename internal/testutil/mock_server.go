// Package testutil provides testing utilities for batchsync.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock batch server response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockServer is a configurable mock batch server for testing transports.
type MockServer struct {
	server    *httptest.Server
	mu        sync.RWMutex
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	sequences map[string][]MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	LastForm          url.Values
}

// NewMockServer creates a new mock batch server.
func NewMockServer() *MockServer {
	mock := &MockServer{
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		sequences: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastForm = r.PostForm

		// Scripted sequences are consumed one response per request; the last
		// response repeats once the sequence is exhausted.
		var next *MockResponse
		if seq := mock.sequences[r.URL.Path]; len(seq) > 0 {
			resp := seq[0]
			next = &resp
			if len(seq) > 1 {
				mock.sequences[r.URL.Path] = seq[1:]
			}
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		switch {
		case next != nil:
			writeMockResponse(w, *next)
		case exists:
			handler(w, r)
		default:
			writeMockResponse(w, NewFailureResponse(http.StatusNotFound, "not_found", "no mock for "+r.URL.Path))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a specific path.
func (m *MockServer) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockServer) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, _ *http.Request) {
		writeMockResponse(w, resp)
	})
}

// SetSequence configures responses returned in order for a path.
func (m *MockServer) SetSequence(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = responses
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastForm returns the form of the last request.
func (m *MockServer) GetLastForm() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastForm
}

// GetLastHeader returns the headers of the last request.
func (m *MockServer) GetLastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// NewSuccessResponse creates a 200 OK success envelope around data.
func NewSuccessResponse(data any) MockResponse {
	raw, err := json.Marshal(map[string]any{"success": true, "data": data})
	if err != nil {
		panic(err)
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(raw),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRawSuccessResponse creates a success envelope around a raw JSON data
// document, for results a well-behaved server would never send.
func NewRawSuccessResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"success":true,"data":` + data + `}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewFailureResponse creates a failure envelope with the given error code.
func NewFailureResponse(status int, code, message string) MockResponse {
	raw, err := json.Marshal(map[string]any{
		"success": false,
		"data":    map[string]string{"code": code, "message": message},
	})
	if err != nil {
		panic(err)
	}
	return MockResponse{
		StatusCode: status,
		Body:       string(raw),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnavailableResponse creates a 503 without an envelope, as sent by a
// proxy in front of the batch server.
func NewUnavailableResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       "service unavailable",
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests without an envelope.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error without an envelope.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
