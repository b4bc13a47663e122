// Package metrics provides the centralized Prometheus metrics registry for
// the harvester. All metrics are defined in their respective packages
// (engine, persist, pagecache) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Metrics (pkg/engine):
//   - harvest_fetch_attempts_total (Counter): Total remote fetch attempts including retries
//   - harvest_fetch_retries_total (Counter): Pages re-enqueued after a failed fetch
//   - harvest_fetch_exhausted_total (Counter): Pages that exceeded the retry bound
//   - harvest_rows_accumulated_total (Counter): Raw records accumulated from successful pages
//
// Persistence Metrics (pkg/persist):
//   - harvest_missing_points_detected_total (Counter): Missing grid points detected across saves
//   - harvest_missing_points_filled_total (Counter): Missing grid points synthesized by gap fill
//   - harvest_chunks_written_total (Counter): Chunk files written
//
// Page Cache Metrics (pkg/pagecache):
//   - harvest_page_cache_hits_total (Counter): Page cache hits
//   - harvest_page_cache_misses_total (Counter): Page cache misses
//   - harvest_page_cache_errors_total (Counter): Page cache operation errors
//
// Example Prometheus Queries:
//
//   # Page Cache Hit Rate
//   rate(harvest_page_cache_hits_total[5m]) /
//   (rate(harvest_page_cache_hits_total[5m]) + rate(harvest_page_cache_misses_total[5m]))
//
//   # Retry Pressure
//   rate(harvest_fetch_retries_total[5m]) / rate(harvest_fetch_attempts_total[5m])
//
//   # Gap Fill Activity
//   rate(harvest_missing_points_filled_total[5m])
//
//   # Jobs Failing Their Retry Bound
//   increase(harvest_fetch_exhausted_total[1h]) > 0
