// Package metrics provides the Prometheus registry and exposition helpers
// for ingestion jobs. All metrics are defined in their respective packages
// (client, pagination, ratelimit, storage, job) to maintain modularity and
// avoid circular dependencies.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the default Prometheus registry used by the ingestion tool.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler for long-running invocations.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Push sends all gathered metrics to a Pushgateway under the given job name.
// Batch runs exit before a scrape could reach them, so pushing is the way
// their metrics survive.
func Push(gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(Gatherer).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - socrata_requests_total{endpoint, status} (Counter): Page requests by endpoint and HTTP status
//   - socrata_request_duration_seconds{endpoint} (Histogram): Page request duration
//   - socrata_errors_total{class} (Counter): Errors by class (client, auth, server, rate_limit, network, response)
//
// Retry Metrics (pkg/client):
//   - socrata_retries_total{error_class} (Counter): Retry attempts by error class
//   - socrata_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - socrata_retry_exhausted_total{error_class} (Counter): Pages that exhausted their retry budget
//
// Rate Limit Metrics (pkg/ratelimit):
//   - socrata_rate_limit_cooldowns_total (Counter): 429 responses that started a cooldown
//   - socrata_rate_limit_wait_seconds (Histogram): Time spent waiting out cooldowns
//
// Pagination Metrics (pkg/pagination):
//   - socrata_pages_fetched_total{endpoint} (Counter): Pages appended to a table
//   - socrata_rows_fetched_total{endpoint} (Counter): Rows appended to a table
//
// Storage Metrics (pkg/storage):
//   - ingest_uploads_total{status} (Counter): Object uploads by outcome
//   - ingest_upload_bytes_total (Counter): Bytes uploaded
//
// Job Metrics (pkg/job):
//   - ingest_jobs_total{job, status} (Counter): Job runs by outcome
//   - ingest_job_duration_seconds{job} (Histogram): End-to-end job duration
//   - ingest_job_rows{job} (Gauge): Rows in the last successful run
//
// Example Prometheus Queries:
//
//   # Retry rate per page request
//   sum(rate(socrata_retries_total[1h])) / sum(rate(socrata_requests_total[1h]))
//
//   # Jobs failing
//   increase(ingest_jobs_total{status="failure"}[1d]) > 0
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(socrata_request_duration_seconds_bucket[1h]))
