// Package metrics holds the prometheus collectors of the service.  Every
// method is safe on a nil receiver so tests can pass nil.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	credits      *prometheus.CounterVec
	segmentRuns  *prometheus.CounterVec
	segmentTime  prometheus.Histogram
}

// New registers the collectors on reg.  A nil reg yields a no-op Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_credits_total",
			Help: "Credits moved by the ledger, by kind.",
		}, []string{"kind"}),
		segmentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segmentation_runs_total",
			Help: "Segmentation runs by outcome.",
		}, []string{"outcome"}),
		segmentTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmentation_duration_seconds",
			Help:    "Wall time of the segmentation process.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.credits, m.segmentRuns, m.segmentTime)
	return m
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// AddCredits counts credits moved; kind is purchase, usage or refund.
func (m *Metrics) AddCredits(kind string, n int64) {
	if m == nil || m.credits == nil || n <= 0 {
		return
	}
	m.credits.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveSegmentation(outcome string, d time.Duration) {
	if m == nil || m.segmentRuns == nil {
		return
	}
	m.segmentRuns.WithLabelValues(outcome).Inc()
	m.segmentTime.Observe(d.Seconds())
}
