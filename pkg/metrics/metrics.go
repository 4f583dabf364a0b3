package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContainersMonitored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_containers_monitored",
			Help: "Number of containers currently selected for healing",
		},
	)

	ContainersQuarantined = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_containers_quarantined",
			Help: "Number of containers currently quarantined",
		},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_restarts_total",
			Help: "Total number of restart attempts by outcome",
		},
		[]string{"status"},
	)

	QuarantinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_quarantines_total",
			Help: "Total number of containers quarantined",
		},
	)

	AutoUnquarantinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_auto_unquarantines_total",
			Help: "Total number of automatic quarantine releases",
		},
	)

	AutoEnrollmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_auto_enrollments_total",
			Help: "Total number of containers auto-enrolled by label",
		},
	)

	ExternalRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_external_restarts_total",
			Help: "Total number of restarts triggered by the external monitor",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_sweep_duration_seconds",
			Help:    "Time taken for one sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_sweeps_total",
			Help: "Total number of sweep cycles completed",
		},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_probe_duration_seconds",
			Help:    "Time taken to execute a health probe",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ExternalMonitorFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_external_monitor_fetch_failures_total",
			Help: "Total number of failed fetches from the external monitor endpoint",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_events_dropped_total",
			Help: "Total number of events dropped due to a full queue or subscriber buffer",
		},
	)

	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_persistence_failures_total",
			Help: "Total number of failed writes to the state store, by file",
		},
		[]string{"file"},
	)
)

func init() {
	prometheus.MustRegister(ContainersMonitored)
	prometheus.MustRegister(ContainersQuarantined)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(QuarantinesTotal)
	prometheus.MustRegister(AutoUnquarantinesTotal)
	prometheus.MustRegister(AutoEnrollmentsTotal)
	prometheus.MustRegister(ExternalRestartsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepsTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(ExternalMonitorFetchFailures)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(PersistenceFailuresTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
