package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/v1/inventory", "GET", 200, time.Millisecond)
	m.AddCredits("purchase", 10)
	m.ObserveSegmentation("ok", time.Second)

	New(nil).AddCredits("purchase", 10)
}

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTP("/v1/inventory", "GET", 200, time.Millisecond)
	m.ObserveHTTP("/v1/inventory", "GET", 200, time.Millisecond)
	m.AddCredits("purchase", 100)
	m.AddCredits("purchase", -5)
	m.ObserveSegmentation("timeout", 30*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/v1/inventory", "GET", "200")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.credits.WithLabelValues("purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.segmentRuns.WithLabelValues("timeout")))
}
