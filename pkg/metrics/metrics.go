// Package metrics exposes Prometheus instruments for journey authoring and runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	/* Authoring metrics */
	publishesTotal    *prometheus.CounterVec
	validationsTotal  *prometheus.CounterVec
	inconsistentTotal prometheus.Counter

	/* Run metrics */
	runsStartedTotal      *prometheus.CounterVec
	runsFinishedTotal     *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	submissionDuration    prometheus.Histogram
	staleSubmissionsTotal prometheus.Counter
}

// New registers the instruments on reg. Passing nil uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		publishesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_publishes_total",
				Help: "Total number of publish attempts",
			},
			[]string{"status"},
		),
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_validations_total",
				Help: "Total number of definition validations",
			},
			[]string{"mode", "valid"},
		),
		inconsistentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "journey_inconsistencies_detected_total",
				Help: "Total number of journeys flagged inconsistent during publish",
			},
		),
		runsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_runs_started_total",
				Help: "Total number of runs started",
			},
			[]string{"preview"},
		),
		runsFinishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_runs_finished_total",
				Help: "Total number of runs reaching a terminal status",
			},
			[]string{"status"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_step_submissions_total",
				Help: "Total number of step result submissions",
			},
			[]string{"step_type", "status"},
		),
		submissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "journey_step_submission_duration_seconds",
				Help:    "Step submission processing time in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		staleSubmissionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "journey_stale_submissions_total",
				Help: "Total number of submissions rejected as stale",
			},
		),
	}
}

func (m *Metrics) RecordPublish(status string) {
	m.publishesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordValidation(mode string, valid bool) {
	label := "false"
	if valid {
		label = "true"
	}

	m.validationsTotal.WithLabelValues(mode, label).Inc()
}

func (m *Metrics) RecordInconsistency() {
	m.inconsistentTotal.Inc()
}

func (m *Metrics) RecordRunStarted(preview bool) {
	label := "false"
	if preview {
		label = "true"
	}

	m.runsStartedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) RecordRunFinished(status string) {
	m.runsFinishedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSubmission(stepType, status string, duration time.Duration) {
	m.submissionsTotal.WithLabelValues(stepType, status).Inc()
	m.submissionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordStaleSubmission() {
	m.staleSubmissionsTotal.Inc()
}
