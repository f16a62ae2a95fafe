package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"isaac-client/internal/domain"
	"isaac-client/internal/usecase/dispatch"
)

const namespace = "isaac"

// Metrics records client counters into a private Prometheus registry. It
// satisfies stream.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	state        prometheus.Gauge
	sessions     prometheus.Counter
	messages     prometheus.Counter
	messageBytes prometheus.Counter
	frames       *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	messagesSent *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime collector, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 open, 3 closed",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of connections that reached the open state",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of text messages received from the server",
		}),
		messageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_received_total",
			Help:      "Total bytes of text messages received from the server",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound messages by dispatch outcome",
		}, []string{"outcome"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Dropped messages by error code",
		}, []string{"code"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages by kind and status",
		}, []string{"kind", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.state, m.sessions, m.messages, m.messageBytes,
		m.frames, m.decodeErrors, m.messagesSent,
	)
	return m
}

// StateChanged implements stream.Metrics.
func (m *Metrics) StateChanged(state domain.ConnectionState) {
	m.state.Set(float64(state))
	if state == domain.StateOpen {
		m.sessions.Inc()
	}
}

// MessageReceived implements stream.Metrics.
func (m *Metrics) MessageReceived(bytes int) {
	m.messages.Inc()
	m.messageBytes.Add(float64(bytes))
}

// FrameHandled implements stream.Metrics.
func (m *Metrics) FrameHandled(outcome dispatch.Outcome, err error) {
	m.frames.WithLabelValues(outcome.String()).Inc()
	if err != nil {
		m.decodeErrors.WithLabelValues(string(domain.ErrorCodeOf(err))).Inc()
	}
}

// MessageSent implements stream.Metrics.
func (m *Metrics) MessageSent(kind string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.messagesSent.WithLabelValues(kind, status).Inc()
}

// AddCounterFunc exposes a counter whose value is read from fn at scrape
// time, e.g. steering statistics owned by another component.
func (m *Metrics) AddCounterFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
