// Package metrics exposes the Prometheus registry used by batchsync.
// All metrics are defined in their respective packages (executor, session,
// transport, activitylog, status) via promauto to keep them next to the code
// that records them.
//
// This package serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by batchsync.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer Handler serves.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Executor Metrics (pkg/executor):
//   - batchsync_handler_duration_seconds{handler} (Histogram): Process function duration
//   - batchsync_handler_errors_total{handler, kind} (Counter): Handler failures (error, panic, timeout, malformed)
//
// Session Metrics (pkg/session):
//   - batchsync_sessions_total{handler, state} (Counter): Finished sessions by terminal state
//   - batchsync_sessions_active (Gauge): Sessions currently running
//   - batchsync_batches_total{handler} (Counter): Accounted batches
//   - batchsync_items_total{handler, status} (Counter): Items by outcome (processed, failed)
//   - batchsync_batch_round_trip_seconds{handler} (Histogram): Dispatch round trip per batch
//
// Transport Metrics (pkg/transport):
//   - batchsync_transport_requests_total{endpoint, status} (Counter): Batch server requests by HTTP status
//   - batchsync_transport_request_duration_seconds{endpoint} (Histogram): Batch server request duration
//   - batchsync_transport_retries_total{error_class} (Counter): Retry attempts by error class
//   - batchsync_transport_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - batchsync_transport_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Activity Log Metrics (pkg/activitylog):
//   - batchsync_activitylog_redis_entries_total (Counter): Entries mirrored to Redis
//   - batchsync_activitylog_redis_errors_total{operation} (Counter): Redis mirror errors
//
// Status Metrics (pkg/status):
//   - batchsync_status_publishes_total (Counter): Status snapshots published
//   - batchsync_status_errors_total{operation} (Counter): Status Redis errors
//   - batchsync_abort_requests_total (Counter): Remote abort requests
//
// Server Metrics (pkg/server):
//   - batchsync_http_requests_total{route, status} (Counter): Batch server requests by route
//
// Example Prometheus Queries:
//
//   # Item failure ratio per handler
//   sum by (handler) (rate(batchsync_items_total{status="failed"}[5m])) /
//   sum by (handler) (rate(batchsync_items_total[5m]))
//
//   # Sessions that did not complete
//   sum by (handler, state) (increase(batchsync_sessions_total{state!="completed"}[1h]))
//
//   # P95 handler latency
//   histogram_quantile(0.95, sum by (le, handler) (rate(batchsync_handler_duration_seconds_bucket[5m])))
//
//   # Retry pressure
//   rate(batchsync_transport_retries_total[5m])
