package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveReconciliation("")
	m.ObserveReconciliation("")
	m.ObserveReconciliation("no_common_point")
	m.ObserveUpdate("extended")
	m.IncUpdateErrors()
	m.AddEvicted(3)
	m.AddEvicted(-1)
	m.AddDropped(2)
	m.AddDropped(0)
	m.IncPredicted()
	m.IncOutOfSync()
	m.ObserveRefresh(true)
	m.ObserveRefresh(false)
	m.ObserveRefresh(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("extended", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("fallback", "no_common_point")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updates.WithLabelValues("extended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updateErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evictedSegments))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.droppedElements))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictedAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outOfSyncSignals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshes.WithLabelValues("error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReconciliation("shape_changed")
		m.ObserveUpdate("replaced")
		m.IncUpdateErrors()
		m.ObserveRefresh(false)
		m.AddEvicted(2)
		m.AddDropped(1)
		m.IncPredicted()
		m.IncOutOfSync()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AddEvicted(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "segindex_timeline_evicted_segments_total 5")
}
