package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_processed_total",
		Help: "Total number of pose frames processed",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_dropped_total",
		Help: "Frames dropped because the session was busy",
	})

	formIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_issues_total",
		Help: "Form issues published",
	}, []string{"type", "severity"})

	formIssuesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "form_issues_suppressed_total",
		Help: "Form issues held back by cooldown",
	})

	repsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reps_total",
		Help: "Repetitions reaching the bottom of the movement",
	}, []string{"outcome"})

	frameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frame_processing_duration_seconds",
		Help:    "Time spent in the per-frame pipeline",
		Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Sessions currently open",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Events dropped because the outbound queue was full",
	})
)
