package syncer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/binderyhq/bindery/metrics"
)

const namespace = "sync"

var (
	rounds = metrics.NewCounter(
		"rounds",
		namespace,
		"number of sync rounds by outcome",
		[]string{"outcome"},
	)
	roundSuccess = rounds.WithLabelValues("ok")
	roundFail    = rounds.WithLabelValues("not")

	roundDuration = metrics.NewSimpleHistogram(
		"round_duration_seconds",
		namespace,
		"time spent computing one sync round",
		prometheus.ExponentialBuckets(0.005, 2, 12),
	)

	emittedRecords = metrics.NewCounter(
		"records",
		namespace,
		"records emitted to devices by kind",
		[]string{"kind"},
	)

	continuations = metrics.NewSimpleCounter(
		"continuations",
		namespace,
		"responses that left changes pending beyond the page limit",
	)

	itemResolutionFailures = metrics.NewSimpleCounter(
		"item_resolution_failures",
		namespace,
		"items skipped because catalog resolution failed",
	)

	mergeFailures = metrics.NewSimpleCounter(
		"store_merge_failures",
		namespace,
		"upstream store merges that failed and were served local-only",
	)
)

func observeRecords(records []Record) {
	for _, record := range records {
		emittedRecords.WithLabelValues(string(record.Kind)).Inc()
	}
}
