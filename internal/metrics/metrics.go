// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts packets read from the capture source.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandit_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"task", "source"},
	)

	// CaptureDropsTotal counts packets dropped before parsing.
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandit_capture_drops_total",
			Help: "Total number of packets dropped before parsing",
		},
		[]string{"task", "stage"},
	)

	// PipelinePacketsTotal counts packets by pipeline outcome.
	PipelinePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandit_pipeline_packets_total",
			Help: "Total number of packets processed in pipeline",
		},
		[]string{"task", "pipeline", "stage"},
	)

	// PipelineLatencySeconds measures per-packet pipeline latency.
	PipelineLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pandit_pipeline_latency_seconds",
			Help:    "Latency of pipeline processing stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"task", "stage"},
	)

	// TaskStatus tracks the current task status.
	TaskStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pandit_task_status",
			Help: "Current status of tasks (0=stopped, 1=running, 2=error)",
		},
		[]string{"task"},
	)

	// ReporterBatchSize tracks the batch size distribution of reporters.
	ReporterBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pandit_reporter_batch_size",
			Help:    "Number of packets sent per reporter batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
		[]string{"task", "reporter"},
	)

	// ReporterErrorsTotal counts reporter errors.
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandit_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"task", "reporter", "error_type"},
	)

	// FlowCacheSize tracks tracked responses per task.
	FlowCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pandit_flow_cache_size",
			Help: "Current number of responses tracked in the flow cache",
		},
		[]string{"task"},
	)

	// HeaderStoreSize tracks stored header entries per task.
	HeaderStoreSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pandit_header_store_size",
			Help: "Current number of entries in the header store",
		},
		[]string{"task"},
	)

	// FlowCacheRejectsTotal counts responses parsed without tracking
	// because the flow cache was full.
	FlowCacheRejectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pandit_flow_cache_rejects_total",
			Help: "Total number of responses not tracked because the flow cache was full",
		},
	)

	HTTPHeaderEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pandit_http_header_entries_total",
			Help: "Total number of header entries stored",
		},
	)

	HTTPHeadersTruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pandit_http_headers_truncated_total",
			Help: "Total number of header blocks cut at the entry limit",
		},
	)

	HTTPStoreRejectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pandit_http_store_rejects_total",
			Help: "Total number of header entries refused by a full store",
		},
	)
)

// TaskStatusValue represents task status as a numeric value for Prometheus gauge
const (
	TaskStatusStopped = 0
	TaskStatusRunning = 1
	TaskStatusError   = 2
)
