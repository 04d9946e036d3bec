// Package telemetry owns the Prometheus collectors shared across the engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbot_polls_total",
		Help: "Provider status polls, labeled by observed state",
	}, []string{"state"})

	PollLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genbot_poll_latency_seconds",
		Help:    "Latency of individual provider status calls",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"provider"})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbot_submissions_total",
		Help: "Submission attempts, labeled by result (accepted or rejection kind)",
	}, []string{"result"})

	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbot_job_outcomes_total",
		Help: "Finalized jobs, labeled by outcome",
	}, []string{"outcome"})

	LedgerFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbot_ledger_fallbacks_total",
		Help: "Ledger operations served by the fallback store, labeled by operation",
	}, []string{"op"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genbot_active_jobs",
		Help: "Jobs currently being polled",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genbot_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})
)
