package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clan_tracker_polls_total",
			Help: "Reconciliation passes by tracking kind and result",
		},
		[]string{"kind", "result"},
	)

	PollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clan_tracker_poll_duration_seconds",
			Help:    "Duration of one clan reconciliation pass, fetch included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clan_tracker_events_total",
			Help: "Events derived by the reconciler by kind and event type",
		},
		[]string{"kind", "type"},
	)

	PersistenceConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clan_tracker_persistence_conflicts_total",
			Help: "Optimistic write conflicts on tracking records",
		},
		[]string{"kind"},
	)

	// Delivery metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clan_tracker_notifications_total",
			Help: "Notifier invocations by result (sent, failed, duplicate)",
		},
		[]string{"result"},
	)

	// Ledger metrics
	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clan_tracker_reservations_total",
			Help: "Base call operations by action and result",
		},
		[]string{"action", "result"},
	)
)

const (
	ResultOK        = "ok"
	ResultNoop      = "noop"
	ResultTransient = "transient"
	ResultNotFound  = "not_found"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

func init() {
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(PersistenceConflictsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(ReservationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
