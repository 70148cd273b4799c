// Package metrics exposes trainer counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mindtrain"

// Update kinds reported by UpdateSent.
const (
	UpdateDiff  = "diff"
	UpdateFull  = "full"
	UpdateEmpty = "empty"
)

// Metrics groups the trainer collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsOpened prometheus.Counter
	updates        *prometheus.CounterVec
	updateBytes    prometheus.Histogram
	errors         *prometheus.CounterVec
	rounds         *prometheus.CounterVec
	levelChanges   *prometheus.CounterVec
	historyEvicted prometheus.Counter
}

// New registers the trainer collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently registered with the coordinator.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "opened_total",
			Help:      "Sessions opened since start.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "sent_total",
			Help:      "Delta records sent, by kind.",
		}, []string{"kind"}),
		updateBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "updates",
			Name:      "size_bytes",
			Help:      "Encoded size of sent delta records.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "errors_total",
			Help:      "Rejected or failed session operations, by error code.",
		}, []string{"code"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rounds",
			Name:      "scored_total",
			Help:      "Scored rounds, by exercise and outcome.",
		}, []string{"exercise", "correct"}),
		levelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "difficulty",
			Name:      "level_changes_total",
			Help:      "Difficulty level moves, by category and direction.",
		}, []string{"category", "direction"}),
		historyEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "evicted_total",
			Help:      "Snapshots dropped from delta history.",
		}),
	}
	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsOpened,
		m.updates,
		m.updateBytes,
		m.errors,
		m.rounds,
		m.levelChanges,
		m.historyEvicted,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened counts a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed removes a session from the active gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// UpdateSent counts one outbound record of the given kind and size.
func (m *Metrics) UpdateSent(kind string, size int) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
	m.updateBytes.Observe(float64(size))
}

// Error counts a failure by its error code.
func (m *Metrics) Error(code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}

// RoundScored counts a scored round.
func (m *Metrics) RoundScored(exercise string, correct bool) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(exercise, strconv.FormatBool(correct)).Inc()
}

// LevelChanged counts a level move; from == to records nothing.
func (m *Metrics) LevelChanged(category string, from, to int) {
	if m == nil || from == to {
		return
	}
	direction := "up"
	if to < from {
		direction = "down"
	}
	m.levelChanges.WithLabelValues(category, direction).Inc()
}

// HistoryEvicted counts snapshots dropped from delta history.
func (m *Metrics) HistoryEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.historyEvicted.Add(float64(n))
}
