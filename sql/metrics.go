package sql

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/binderyhq/bindery/metrics"
)

const namespace = "database"

var connWaitLatency = metrics.NewSimpleHistogram(
	"connection_wait_seconds",
	namespace,
	"Time waiting for a free connection from the pool",
	prometheus.ExponentialBuckets(1e-6, 4, 10),
)

// queryDuration in nanoseconds, labeled by query text. Shared by all databases
// opened with latency metering to keep registration single-shot.
var queryDuration = metrics.NewHistogramWithBuckets(
	"query_duration",
	namespace,
	"Duration of the query in nanoseconds",
	[]string{"query"},
	prometheus.ExponentialBuckets(100_000, 2, 20),
)

func newQueryLatency() *prometheus.HistogramVec {
	return queryDuration
}
