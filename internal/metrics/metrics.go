package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "approvals"

// HTTP metrics for the ops server
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
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Scheduled job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of scheduled job runs",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job execution time distribution",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type"},
	)

	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Scheduled jobs currently running on this instance",
		},
		[]string{"type"},
	)
)

// Business metrics
var (
	InspectionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inspections_submitted_total",
			Help:      "Total number of inspections submitted, by initial status",
		},
		[]string{"status"},
	)

	AutoApprovalEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_approval_evaluations_total",
			Help:      "Total number of auto-approval rule evaluations",
		},
		[]string{"result"}, // "eligible" or "ineligible"
	)

	VotesCast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Total number of approval votes recorded",
		},
		[]string{"decision"},
	)

	InspectionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inspections_finalized_total",
			Help:      "Total number of inspections reaching a terminal status",
		},
		[]string{"status", "path"}, // path: "vote", "batch", "auto"
	)

	StaleWriteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_write_retries_total",
			Help:      "Total number of optimistic concurrency retries",
		},
		[]string{"op"},
	)

	BatchesFormed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_formed_total",
			Help:      "Total number of batches formed by grouping sweeps",
		},
	)

	InspectionsGrouped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inspections_grouped_total",
			Help:      "Total number of inspections claimed into batches",
		},
	)

	BatchMembersResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_members_resolved_total",
			Help:      "Total number of batch members resolved by a batch action",
		},
		[]string{"action"},
	)

	BatchTagsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_tags_cleared_total",
			Help:      "Total number of batch tags removed by retention sweeps",
		},
	)

	GroupingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grouping_failures_total",
			Help:      "Total number of organizations whose grouping pass failed",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notification deliveries, by type and status",
		},
		[]string{"type", "status"},
	)
)
