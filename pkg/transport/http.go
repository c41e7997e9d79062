package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/batchsync/pkg/batch"
	"github.com/Sternrassler/batchsync/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for HTTP transport requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_transport_requests_total",
		Help: "Total batch server requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchsync_transport_request_duration_seconds",
		Help:    "Batch server request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})
)

// maxResponseBytes bounds the response body read per request.
const maxResponseBytes = 10 << 20

// HTTPConfig holds the HTTP transport configuration.
type HTTPConfig struct {
	// BaseURL of the batch server, e.g. "http://localhost:8080" (REQUIRED).
	BaseURL string

	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string

	Retry RetryConfig
}

// DefaultHTTPConfig returns a default configuration for baseURL.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:   baseURL,
		Timeout:   60 * time.Second,
		UserAgent: "batchsync",
		Retry:     DefaultRetryConfig(),
	}
}

// HTTP talks to a batch server (see pkg/server).
type HTTP struct {
	httpClient *http.Client
	baseURL    string
	config     HTTPConfig
	logger     zerolog.Logger
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	cfg.Retry = cfg.Retry.withDefaults()

	return &HTTP{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		config:     cfg,
		logger:     logging.NewLogger("http-transport"),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *HTTP) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Preflight fetches the handler's public info, authorized for scopes.
func (c *HTTP) Preflight(ctx context.Context, handlerID string, scopes batch.Scopes) (*batch.HandlerInfo, error) {
	endpoint := "/handlers/" + url.PathEscape(handlerID)

	return retryTransient(ctx, c.config.Retry, c.logger, func() (*batch.HandlerInfo, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set(HeaderScopes, FormatScopes(scopes))

		env, err := c.do(ctx, req, "/handlers")
		if err != nil {
			return nil, err
		}
		if !env.Success {
			return nil, remoteError(env.Data, batch.Request{HandlerID: handlerID})
		}

		var info batch.HandlerInfo
		if err := json.Unmarshal(env.Data, &info); err != nil || info.ID == "" {
			return nil, fmt.Errorf("%w: invalid handler info", batch.ErrMalformedResult)
		}
		return &info, nil
	})
}

// Dispatch posts one batch request and returns its validated result.
func (c *HTTP) Dispatch(ctx context.Context, br batch.Request) (*batch.Result, error) {
	form, err := EncodeRequest(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", batch.ErrInvalidRequest, err)
	}
	body := form.Encode()

	return retryTransient(ctx, c.config.Retry, c.logger, func() (*batch.Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batch", strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(HeaderScopes, FormatScopes(br.Scopes))

		env, err := c.do(ctx, req, "/batch")
		if err != nil {
			return nil, err
		}
		if !env.Success {
			return nil, remoteError(env.Data, br)
		}
		return decodeResult(env.Data)
	})
}

// do executes one attempt and decodes the response envelope. Responses
// without an envelope are classified by status code.
func (c *HTTP) do(ctx context.Context, req *http.Request, endpoint string) (*Envelope, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Batch request failed")
		return nil, &ResponseError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ResponseError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response",
			Err:        err,
		}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return &env, nil
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Batch server error")
		return nil, &ResponseError{StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}
	return nil, fmt.Errorf("%w: response is not a batch envelope (status %d)", batch.ErrMalformedResult, resp.StatusCode)
}
