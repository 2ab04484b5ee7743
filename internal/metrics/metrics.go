package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus instruments for the daemon. All metrics
// live in a dedicated registry so they do not interfere with the default
// global registry.
type Collector struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge

	authSuccessTotal  prometheus.Counter
	authFailuresTotal *prometheus.CounterVec

	sessionsActive prometheus.Gauge

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	protocolErrorsTotal *prometheus.CounterVec

	framesReadTotal    prometheus.Counter
	framesWrittenTotal prometheus.Counter
}

// NewCollector creates a Collector with all instruments registered in a
// fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	connectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "connections_total",
		Help:      "Total number of accepted TCP connections.",
	})

	connectionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "portcullis",
		Name:      "connections_active",
		Help:      "Number of currently open connections.",
	})

	authSuccessTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "auth_success_total",
		Help:      "Total number of successful handshakes.",
	})

	authFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "auth_failures_total",
		Help:      "Total number of failed handshakes by reason.",
	}, []string{"reason"})

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "portcullis",
		Name:      "sessions_active",
		Help:      "Number of live authenticated sessions.",
	})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "commands_total",
		Help:      "Total number of commands processed by command and status.",
	}, []string{"command", "status"})

	commandDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portcullis",
		Name:      "command_duration_seconds",
		Help:      "Command execution latency histogram by command.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"command"})

	protocolErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "protocol_errors_total",
		Help:      "Total number of protocol errors by kind.",
	}, []string{"kind"})

	framesReadTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "frames_read_total",
		Help:      "Total number of frames read from clients.",
	})

	framesWrittenTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portcullis",
		Name:      "frames_written_total",
		Help:      "Total number of frames written to clients.",
	})

	reg.MustRegister(connectionsTotal)
	reg.MustRegister(connectionsActive)
	reg.MustRegister(authSuccessTotal)
	reg.MustRegister(authFailuresTotal)
	reg.MustRegister(sessionsActive)
	reg.MustRegister(commandsTotal)
	reg.MustRegister(commandDuration)
	reg.MustRegister(protocolErrorsTotal)
	reg.MustRegister(framesReadTotal)
	reg.MustRegister(framesWrittenTotal)

	return &Collector{
		registry:            reg,
		connectionsTotal:    connectionsTotal,
		connectionsActive:   connectionsActive,
		authSuccessTotal:    authSuccessTotal,
		authFailuresTotal:   authFailuresTotal,
		sessionsActive:      sessionsActive,
		commandsTotal:       commandsTotal,
		commandDuration:     commandDuration,
		protocolErrorsTotal: protocolErrorsTotal,
		framesReadTotal:     framesReadTotal,
		framesWrittenTotal:  framesWrittenTotal,
	}
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ConnectionOpened records an accepted connection.
func (c *Collector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed records a closed connection.
func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// AuthSucceeded records a completed handshake.
func (c *Collector) AuthSucceeded() {
	c.authSuccessTotal.Inc()
}

// AuthFailed records a failed handshake with the given reason label.
func (c *Collector) AuthFailed(reason string) {
	c.authFailuresTotal.WithLabelValues(reason).Inc()
}

// SetActiveSessions sets the live session gauge.
func (c *Collector) SetActiveSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// CommandProcessed records one executed command with its outcome and latency.
func (c *Collector) CommandProcessed(command, status string, duration time.Duration) {
	c.commandsTotal.WithLabelValues(command, status).Inc()
	c.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// ProtocolError records a protocol-level failure by kind.
func (c *Collector) ProtocolError(kind string) {
	c.protocolErrorsTotal.WithLabelValues(kind).Inc()
}

// FrameRead records one frame read from a client.
func (c *Collector) FrameRead() {
	c.framesReadTotal.Inc()
}

// FrameWritten records one frame written to a client.
func (c *Collector) FrameWritten() {
	c.framesWrittenTotal.Inc()
}

// Handler returns an http.Handler that serves the collector's registry in
// the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
