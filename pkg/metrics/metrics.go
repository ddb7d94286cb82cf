package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received_total",
		Help: "The total number of webhook events received and durably logged",
	}, []string{"topic"})

	WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_rejected_total",
		Help: "The total number of webhook requests rejected before logging",
	}, []string{"reason"})

	PipelineJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_total",
		Help: "The total number of pipeline jobs by terminal outcome",
	}, []string{"topic", "outcome"})

	PipelineJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_job_duration_seconds",
		Help:    "Time taken to run one event through the sync pipeline",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	MarketplacePush = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_push_total",
		Help: "The total number of pushes to the marketplace API",
	}, []string{"endpoint", "status"})

	UnreadBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_log_unread_backlog",
		Help: "Unread webhook events observed at the start of the last sweep",
	})
)
