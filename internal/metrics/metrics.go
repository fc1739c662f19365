package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus counters of the segment index engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	reconciliations  *prometheus.CounterVec
	updates          *prometheus.CounterVec
	updateErrors     prometheus.Counter
	evictedSegments  prometheus.Counter
	droppedElements  prometheus.Counter
	predictedAdded   prometheus.Counter
	outOfSyncSignals prometheus.Counter
	refreshes        *prometheus.CounterVec
}

// New creates and registers the engine metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segindex_timeline_reconciliations_total",
		Help: "Incremental timeline parses, by outcome and fallback reason",
	}, []string{"result", "reason"})
	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segindex_timeline_updates_total",
		Help: "Manifest refresh merges, by outcome",
	}, []string{"result"})
	updateErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segindex_timeline_update_errors_total",
		Help: "Manifest refresh merges that could not bridge the previous timeline",
	})
	evictedSegments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segindex_timeline_evicted_segments_total",
		Help: "Segments removed from the front of live timelines",
	})
	droppedElements := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segindex_timeline_dropped_elements_total",
		Help: "Raw timeline elements dropped because their start or duration could not be resolved",
	})
	predictedAdded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segindex_timeline_predicted_segments_total",
		Help: "Segments added from in-band announcements",
	})
	outOfSyncSignals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segindex_out_of_sync_errors_total",
		Help: "Request errors classified as a client/server desynchronization",
	})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segindex_manifest_refreshes_total",
		Help: "Manifest fetches of live sessions, by outcome",
	}, []string{"result"})

	registry.MustRegister(
		reconciliations,
		updates,
		updateErrors,
		evictedSegments,
		droppedElements,
		predictedAdded,
		outOfSyncSignals,
		refreshes,
	)

	return &Metrics{
		registry:         registry,
		reconciliations:  reconciliations,
		updates:          updates,
		updateErrors:     updateErrors,
		evictedSegments:  evictedSegments,
		droppedElements:  droppedElements,
		predictedAdded:   predictedAdded,
		outOfSyncSignals: outOfSyncSignals,
		refreshes:        refreshes,
	}
}

// ObserveReconciliation counts one incremental parse. An empty reason means
// the previous timeline was extended.
func (m *Metrics) ObserveReconciliation(reason string) {
	if m == nil {
		return
	}
	result := "extended"
	if reason != "" {
		result = "fallback"
	}
	m.reconciliations.WithLabelValues(result, reason).Inc()
}

// ObserveUpdate counts one manifest refresh merge.
func (m *Metrics) ObserveUpdate(result string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(result).Inc()
}

// IncUpdateErrors increments the merge gap counter.
func (m *Metrics) IncUpdateErrors() {
	if m == nil {
		return
	}
	m.updateErrors.Inc()
}

// AddEvicted adds n evicted segments.
func (m *Metrics) AddEvicted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.evictedSegments.Add(float64(n))
}

// AddDropped adds n dropped raw elements.
func (m *Metrics) AddDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedElements.Add(float64(n))
}

// IncPredicted increments the predicted segments counter.
func (m *Metrics) IncPredicted() {
	if m == nil {
		return
	}
	m.predictedAdded.Inc()
}

// IncOutOfSync increments the out-of-sync errors counter.
func (m *Metrics) IncOutOfSync() {
	if m == nil {
		return
	}
	m.outOfSyncSignals.Inc()
}

// ObserveRefresh counts one manifest fetch of a live session.
func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
