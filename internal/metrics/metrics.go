package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go2tv.app/beam-remote/internal/domain"
)

const defaultNamespace = "beam_remote"

type Config struct {
	// Namespace prefixes every metric name. Default: "beam_remote".
	Namespace string

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Metrics holds the collectors for one stream endpoint. All methods are
// safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	connectionState   *prometheus.GaugeVec
	connectAttempts   prometheus.Counter
	connectFailures   *prometheus.CounterVec
	streamsOpened     prometheus.Counter
	backoffDelay      prometheus.Gauge
	payloads          prometheus.Counter
	decodeErrors      prometheus.Counter
	commandsReceived  *prometheus.CounterVec
	commandsExecuted  *prometheus.CounterVec
	commandsDropped   *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
	lastHeartbeatUnix prometheus.Gauge
}

func New(cfg Config) *Metrics {
	namespace := strings.ReplaceAll(strings.TrimSpace(cfg.Namespace), "-", "_")
	if namespace == "" {
		namespace = defaultNamespace
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection phase, 0 otherwise.",
		}, []string{"phase"}),
		connectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Stream connection attempts.",
		}),
		connectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Stream failures by reason.",
		}, []string{"reason"}),
		streamsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "Successfully established event streams.",
		}),
		backoffDelay: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_delay_seconds",
			Help:      "Delay before the pending reconnect attempt.",
		}),
		payloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_payloads_total",
			Help:      "Complete event payloads read from the stream.",
		}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Payloads that could not be decoded into a command.",
		}),
		commandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_received_total",
			Help:      "Decoded commands submitted for dispatch.",
		}, []string{"type"}),
		commandsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_executed_total",
			Help:      "Commands handed to the playback controller by outcome.",
		}, []string{"type", "outcome"}),
		commandsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands not forwarded to the playback controller.",
		}, []string{"reason"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent inside playback controller calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Commands waiting for execution.",
		}),
		lastHeartbeatUnix: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_heartbeat_timestamp_seconds",
			Help:      "Unix time of the last heartbeat command.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetConnectionState(state domain.ConnectionState) {
	if m == nil {
		return
	}
	for _, phase := range []domain.ConnectionPhase{
		domain.PhaseDisconnected,
		domain.PhaseConnecting,
		domain.PhaseStreaming,
		domain.PhaseBackoff,
	} {
		value := 0.0
		if phase == state.Phase {
			value = 1
		}
		m.connectionState.WithLabelValues(phase.String()).Set(value)
	}
	if state.Phase == domain.PhaseBackoff {
		m.backoffDelay.Set(state.Remaining.Seconds())
	} else {
		m.backoffDelay.Set(0)
	}
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) ConnectFailure(reason string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamsOpened.Inc()
}

func (m *Metrics) PayloadRead() {
	if m == nil {
		return
	}
	m.payloads.Inc()
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) CommandReceived(kind string) {
	if m == nil {
		return
	}
	m.commandsReceived.WithLabelValues(commandLabel(kind)).Inc()
}

func (m *Metrics) CommandExecuted(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := commandLabel(kind)
	m.commandsExecuted.WithLabelValues(label, outcome).Inc()
	m.commandDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (m *Metrics) CommandDropped(reason string) {
	if m == nil {
		return
	}
	m.commandsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Heartbeat(at time.Time) {
	if m == nil {
		return
	}
	m.lastHeartbeatUnix.Set(float64(at.UnixNano()) / float64(time.Second))
}

// commandLabel keeps label cardinality bounded: raw types of unrecognized
// commands come from the server and are collapsed.
func commandLabel(kind string) string {
	switch kind {
	case domain.CommandTypeYoutube,
		domain.CommandTypeStream,
		domain.CommandTypeStop,
		domain.CommandTypeHeartbeat:
		return kind
	default:
		return "unrecognized"
	}
}
