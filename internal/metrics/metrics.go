package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lmpc"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)
)

// Acquisition metrics
var (
	FetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_outcomes_total",
			Help:      "Final fetch outcomes by platform and status",
		},
		[]string{"platform", "status"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Plain fetch retries by platform and reason",
		},
		[]string{"platform", "reason"},
	)

	FallbackRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_renders_total",
			Help:      "Browser fallback renders by platform and result",
		},
		[]string{"platform", "result"},
	)

	OCRImages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_images_total",
			Help:      "Images sent to OCR by result",
		},
		[]string{"result"},
	)
)

// Compliance metrics
var (
	RuleViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_violations_total",
			Help:      "Final-report rule violations by rule",
		},
		[]string{"rule_id"},
	)

	Corrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Correction attempts by outcome",
		},
		[]string{"outcome"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time to process one product end to end",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"platform", "status"},
	)

	Deduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deduplicated_total",
			Help:      "Process calls served from the session cache",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events relayed by result",
		},
		[]string{"result"},
	)
)
