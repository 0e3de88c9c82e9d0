// Package metrics holds the Prometheus collectors of the signaling coordinator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

type Metrics struct {
	SessionsActive   prometheus.Gauge
	TransportsActive *prometheus.GaugeVec // direction
	ProducersActive  *prometheus.GaugeVec // kind
	ConsumersActive  *prometheus.GaugeVec // kind
	Requests         *prometheus.CounterVec
	EngineLatency    *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration, which tests use to get isolated instances.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected client sessions.",
		}),
		TransportsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transports_active",
			Help:      "Number of live WebRTC transports by direction.",
		}, []string{"direction"}),
		ProducersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "producers_active",
			Help:      "Number of live producers by media kind.",
		}, []string{"kind"}),
		ConsumersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers_active",
			Help:      "Number of live consumers by media kind.",
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_requests_total",
			Help:      "Signaling requests by method and outcome code.",
		}, []string{"method", "code"}),
		EngineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_seconds",
			Help:      "Latency of routing engine calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.TransportsActive,
			m.ProducersActive,
			m.ConsumersActive,
			m.Requests,
			m.EngineLatency,
		)
	}
	return m
}

// ObserveEngine records the duration of an engine call started at start.
func (m *Metrics) ObserveEngine(op string, start time.Time) {
	if m == nil {
		return
	}
	m.EngineLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Request(method, code string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, code).Inc()
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) TransportOpened(direction string) {
	if m != nil {
		m.TransportsActive.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) TransportClosed(direction string) {
	if m != nil {
		m.TransportsActive.WithLabelValues(direction).Dec()
	}
}

func (m *Metrics) ProducerOpened(kind string) {
	if m != nil {
		m.ProducersActive.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ProducerClosed(kind string) {
	if m != nil {
		m.ProducersActive.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) ConsumerOpened(kind string) {
	if m != nil {
		m.ConsumersActive.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ConsumerClosed(kind string) {
	if m != nil {
		m.ConsumersActive.WithLabelValues(kind).Dec()
	}
}
