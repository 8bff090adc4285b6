package stream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics shared by all sessions of a process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesSent        prometheus.Counter
	bytesSent         prometheus.Counter
	sendErrors        prometheus.Counter
	handshakeErrors   prometheus.Counter
	handshakeDuration prometheus.Histogram
	activeLights      prometheus.Gauge
	state             prometheus.Gauge
}

// NewMetrics creates and registers the stream metrics. Returns nil when reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "frames_sent_total",
			Help:      "Frames written to the entertainment transport",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "bytes_sent_total",
			Help:      "Frame bytes written to the entertainment transport",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "send_errors_total",
			Help:      "Frame writes that failed",
		}),
		handshakeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "handshake_errors_total",
			Help:      "Transport handshakes that failed",
		}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "handshake_duration_seconds",
			Help:      "Time to establish the entertainment transport",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		activeLights: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "active_lights",
			Help:      "Lights with pending state in the current session",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huestream",
			Subsystem: "stream",
			Name:      "session_state",
			Help:      "Session state (0 idle, 1 connecting, 2 streaming, 3 closed)",
		}),
	}

	reg.MustRegister(
		m.framesSent,
		m.bytesSent,
		m.sendErrors,
		m.handshakeErrors,
		m.handshakeDuration,
		m.activeLights,
		m.state,
	)

	return m
}

func (m *Metrics) recordFrame(n int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) recordSendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *Metrics) recordHandshake(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.handshakeErrors.Inc()
		return
	}
	m.handshakeDuration.Observe(d.Seconds())
}

func (m *Metrics) setActiveLights(n int) {
	if m == nil {
		return
	}
	m.activeLights.Set(float64(n))
}

func (m *Metrics) setState(s SessionState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
