package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcomes recorded for exchanges.
const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeRejected  = "rejected"
)

type serverMetrics struct {
	exchanges *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	events    *prometheus.CounterVec
	inFlight  prometheus.Gauge
}

func newServerMetrics(reg *prometheus.Registry) *serverMetrics {
	m := &serverMetrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "exchanges_total",
			Help:      "Exchanges served, by transport and outcome.",
		}, []string{"transport", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flock",
			Name:      "exchange_duration_seconds",
			Help:      "Wall time of served exchanges.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"transport"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "stream_events_total",
			Help:      "Stream events written to clients, by type.",
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "exchanges_in_flight",
			Help:      "Exchanges currently streaming.",
		}),
	}
	reg.MustRegister(
		m.exchanges, m.duration, m.events, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
