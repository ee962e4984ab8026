package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the service's Prometheus metrics.
type Metrics struct {
	// EventsIngested counts inbound events.
	// Labels: type (text|image|audio|command), result (ok|duplicate|error)
	EventsIngested *prometheus.CounterVec

	// MediaStored counts blob store writes.
	// Labels: kind (image|audio|video|other), result (new|existing)
	MediaStored *prometheus.CounterVec

	// Classifications counts intent verdicts after routing.
	// Labels: intent (memory|search|reminder), degraded (true|false)
	Classifications *prometheus.CounterVec

	// RemindersScheduled counts accepted enrollments.
	RemindersScheduled prometheus.Counter

	// ReminderDispatches counts dispatch outcomes.
	// Labels: outcome (sent|retry|failed)
	ReminderDispatches *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP handler latency in seconds.
	// Labels: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics. A nil registerer uses
// the default registry; tests pass their own to avoid duplicate
// registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_events_ingested_total",
				Help: "Inbound events by type and result",
			},
			[]string{"type", "result"},
		),
		MediaStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_media_stored_total",
				Help: "Blob store writes by kind and dedup result",
			},
			[]string{"kind", "result"},
		),
		Classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_classifications_total",
				Help: "Intent verdicts after routing",
			},
			[]string{"intent", "degraded"},
		),
		RemindersScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "recall_reminders_scheduled_total",
				Help: "Accepted reminder enrollments",
			},
		),
		ReminderDispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_reminder_dispatches_total",
				Help: "Reminder dispatch outcomes",
			},
			[]string{"outcome"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recall_http_request_duration_seconds",
				Help:    "HTTP handler latency",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status"},
		),
	}
}
