package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_transport_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchsync_transport_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_transport_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	// 1 disables retries.
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// retryTransient runs op until it succeeds, fails permanently or the
// attempts are exhausted. Only a *ResponseError of a transient class is
// retried; every other error is returned as is after the first attempt.
// A retried request replays the same cursor.
func retryTransient[T any](ctx context.Context, cfg RetryConfig, logger zerolog.Logger, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0.2

	var (
		attempts  int
		lastClass ErrorClass
	)

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op()
		if err == nil {
			if attempts > 1 {
				logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempts).
					Msg("Request succeeded after retry")
			}
			return v, nil
		}

		var re *ResponseError
		if errors.As(err, &re) && shouldRetry(re.ErrorClass) {
			lastClass = re.ErrorClass
			return v, err
		}
		// Handler and protocol errors are never retried
		return v, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			retriesTotal.WithLabelValues(string(lastClass)).Inc()
			retryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(wait.Seconds())

			logger.Debug().
				Err(err).
				Str("error_class", string(lastClass)).
				Int("attempt", attempts).
				Dur("backoff", wait).
				Msg("Retrying request after backoff")
		}),
	)
	if err == nil {
		return res, nil
	}

	var re *ResponseError
	if errors.As(err, &re) && shouldRetry(re.ErrorClass) && attempts >= cfg.MaxAttempts {
		retryExhaustedTotal.WithLabelValues(string(re.ErrorClass)).Inc()
		logger.Warn().
			Str("error_class", string(re.ErrorClass)).
			Int("max_attempts", cfg.MaxAttempts).
			Msg("Retry attempts exhausted")
		return res, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}
	return res, err
}
