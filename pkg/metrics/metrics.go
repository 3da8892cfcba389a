// Package metrics provides Prometheus metrics for sorrel pipelines and the read API.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal tracks pipeline runs by outcome
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		},
		[]string{"definition", "status"},
	)

	// PhaseDuration tracks how long each pipeline phase takes
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sorrel",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of pipeline phases in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"definition", "phase"},
	)

	// RecordsLoaded tracks records read per collection in the last run
	RecordsLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sorrel",
			Subsystem: "pipeline",
			Name:      "records_loaded",
			Help:      "Records loaded per collection in the last run",
		},
		[]string{"definition", "side"},
	)

	// CandidatePairs tracks the candidate set size of the last run
	CandidatePairs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sorrel",
			Subsystem: "indexing",
			Name:      "candidate_pairs",
			Help:      "Candidate pairs produced by blocking in the last run",
		},
		[]string{"definition"},
	)

	// BlocksDropped tracks blocks skipped for exceeding the size limit
	BlocksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "indexing",
			Name:      "blocks_dropped_total",
			Help:      "Total number of oversized blocks dropped",
		},
		[]string{"definition"},
	)

	// FeatureCacheTotal tracks feature cache hits and misses
	FeatureCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "compare",
			Name:      "feature_cache_total",
			Help:      "Feature cache lookups by result",
		},
		[]string{"definition", "result"},
	)

	// AcceptedPairs tracks accepted matches in the last run
	AcceptedPairs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sorrel",
			Subsystem: "classifier",
			Name:      "accepted_pairs",
			Help:      "Pairs accepted by the classifier in the last run",
		},
		[]string{"definition"},
	)

	// Clusters tracks clusters written in the last run
	Clusters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sorrel",
			Subsystem: "clustering",
			Name:      "clusters",
			Help:      "Entity clusters written in the last run",
		},
		[]string{"definition"},
	)

	// MalformedValuesTotal tracks source values that could not be parsed
	MalformedValuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "source",
			Name:      "malformed_values_total",
			Help:      "Total number of unparseable source values set to null",
		},
		[]string{"table", "field"},
	)

	// LabelsTotal tracks answers given during active learning
	LabelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "activelearning",
			Name:      "labels_total",
			Help:      "Total number of labeling answers by kind",
		},
		[]string{"answer"},
	)

	// HTTPRequestsTotal tracks read API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorrel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of read API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks read API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sorrel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of read API requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// WriteToTextfile dumps the default registry for the node exporter textfile
// collector. Batch runs call it on exit since nothing scrapes them.
func WriteToTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
