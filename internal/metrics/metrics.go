// Package metrics holds the gateway's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice_gateway"

type Metrics struct {
	registry *prometheus.Registry

	registrationAttempts *prometheus.CounterVec
	registrationsActive  prometheus.Gauge
	registrationDrops    prometheus.Counter

	callsStarted  prometheus.Counter
	callsActive   prometheus.Gauge
	callsFinished *prometheus.CounterVec
	callsRejected *prometheus.CounterVec
	turns         prometheus.Counter
	stageDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		registrationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "attempts_total",
			Help:      "REGISTER attempts by result.",
		}, []string{"result"}),
		registrationsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "active",
			Help:      "Clients currently registered.",
		}),
		registrationDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "remote_drops_total",
			Help:      "Registrations terminated by the remote side.",
		}),
		callsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "started_total",
			Help:      "Inbound calls that reached the conversation loop.",
		}),
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "active",
			Help:      "Calls in progress.",
		}),
		callsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "finished_total",
			Help:      "Finalized calls by status.",
		}, []string{"status"}),
		callsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "rejected_total",
			Help:      "Invites rejected before a call record existed.",
		}, []string{"reason"}),
		turns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calls",
			Name:      "turns_total",
			Help:      "Completed user/assistant exchanges.",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "stage_duration_seconds",
			Help:      "Latency of transcription, generation and synthesis.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RegistrationAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.registrationAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveRegistrations(n int) {
	if m == nil {
		return
	}
	m.registrationsActive.Set(float64(n))
}

func (m *Metrics) RegistrationDropped() {
	if m == nil {
		return
	}
	m.registrationDrops.Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.callsStarted.Inc()
	m.callsActive.Inc()
}

func (m *Metrics) CallFinished(status string) {
	if m == nil {
		return
	}
	m.callsActive.Dec()
	m.callsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) CallRejected(reason string) {
	if m == nil {
		return
	}
	m.callsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) TurnCompleted() {
	if m == nil {
		return
	}
	m.turns.Inc()
}

// ObserveStage records how long one AI stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
