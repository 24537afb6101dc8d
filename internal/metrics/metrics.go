package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events received, by type and outcome",
		},
		[]string{"type", "result"},
	)

	WebhookProcessingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_seconds",
			Help:    "Histogram of webhook handler durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	LedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Total number of ledger entries written, by kind",
		},
		[]string{"kind"},
	)

	ReconciliationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_records_total",
			Help: "Total number of reconciliation outcomes, by status",
		},
		[]string{"status"},
	)

	PayoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "affiliate_payouts_total",
			Help: "Total number of affiliate payouts settled",
		},
	)

	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)
