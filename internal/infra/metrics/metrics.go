package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "installment_notifier"

// Metrics holds all application metrics
type Metrics struct {
	ReminderRuns         *prometheus.CounterVec
	ReminderSends        *prometheus.CounterVec
	ReminderSendDuration prometheus.Histogram

	NotificationsCreated prometheus.Counter
	PushFailures         prometheus.Counter
}

// New creates and registers all application metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReminderRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "runs_total",
			Help:      "Reminder runs by outcome (completed, skipped_config, dropped_overlap, failed, deadline)",
		}, []string{"outcome"}),
		ReminderSends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "sends_total",
			Help:      "Reminder dispatches by tier and result",
		}, []string{"tier", "result"}),
		ReminderSendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "send_duration_seconds",
			Help:      "Time spent dispatching one reminder, retries included",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		NotificationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Total number of stored notification records",
		}),
		PushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "push_failures_total",
			Help:      "Total number of failed live pushes",
		}),
	}
}

// NewNop returns metrics registered on a private registry. Meant for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
