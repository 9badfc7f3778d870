package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livelaunch"

var (
	cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_cycles_total",
		Help:      "Reconciliation cycles by loop and outcome.",
	}, []string{"loop", "outcome"})

	cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_cycle_duration_seconds",
		Help:      "Wall time of one reconciliation cycle.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"loop"})

	lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconcile_last_success_timestamp_seconds",
		Help:      "Unix time of the last completed cycle.",
	}, []string{"loop"})

	cachedEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_events",
		Help:      "Events held in the cache after the last structured cycle.",
	})

	calendarOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calendar_operations_total",
		Help:      "Downstream calendar operations by kind and outcome.",
	}, []string{"op", "outcome"})

	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Destination deliveries by notification kind and outcome.",
	}, []string{"kind", "outcome"})

	mediaAnnounced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_announced_total",
		Help:      "Media items that passed the dedup gate, by discovering feed.",
	}, []string{"feed"})

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(cycles, cycleDuration, lastSuccess, cachedEvents, calendarOps, deliveries, mediaAnnounced)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveCycle(loop string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		lastSuccess.WithLabelValues(loop).SetToCurrentTime()
	}
	cycles.WithLabelValues(loop, outcome).Inc()
	cycleDuration.WithLabelValues(loop).Observe(time.Since(started).Seconds())
}

func SetCachedEvents(n int) {
	cachedEvents.Set(float64(n))
}

func CalendarOp(op, outcome string) {
	calendarOps.WithLabelValues(op, outcome).Inc()
}

func Delivery(kind, outcome string) {
	deliveries.WithLabelValues(kind, outcome).Inc()
}

func MediaAnnounced(feed string, n int) {
	mediaAnnounced.WithLabelValues(feed).Add(float64(n))
}
