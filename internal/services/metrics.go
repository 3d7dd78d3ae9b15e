package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors shared by every SyncService.
type Metrics struct {
	requests *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisync",
			Name:      "sync_requests_total",
			Help:      "Sync requests by resource, direction and result.",
		}, []string{"resource", "direction", "result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnisync",
			Name:      "sync_records_total",
			Help:      "Records pulled, accepted or rejected.",
		}, []string{"resource", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnisync",
			Name:      "sync_request_duration_seconds",
			Help:      "Time spent serving sync requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource", "direction"}),
	}
	reg.MustRegister(m.requests, m.records, m.duration)
	return m
}

func (m *Metrics) observeRequest(resource, direction, result string, started time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(resource, direction, result).Inc()
	m.duration.WithLabelValues(resource, direction).Observe(time.Since(started).Seconds())
}

func (m *Metrics) addRecords(resource, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(resource, outcome).Add(float64(n))
}
