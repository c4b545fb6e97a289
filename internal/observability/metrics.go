package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ChunksReceived   prometheus.Counter
	ChunkBytes       prometheus.Counter
	PipelineStage    *prometheus.HistogramVec

	window *PipelineWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of recordings currently buffered in the session registry.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Recording session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Server events handed to connections by type and result.",
		}, []string{"type", "result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Transcription and summarization errors by provider and code.",
		}, []string{"provider", "code"}),
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Audio chunks accepted into session buffers.",
		}),
		ChunkBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Audio bytes accepted into session buffers.",
		}),
		PipelineStage: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_ms",
			Help:      "Completion pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"stage"}),
		window: NewPipelineWindow(256),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) WSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) Outbound(kind, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) Chunk(size int) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.ChunkBytes.Add(float64(size))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineStage.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
	m.window.Observe(stage, d)
}

func (m *Metrics) PipelineOutcome(outcome string) {
	if m == nil {
		return
	}
	m.window.Outcome(outcome)
}

func (m *Metrics) SnapshotPipeline() PipelineSnapshot {
	if m == nil {
		return (*PipelineWindow)(nil).Snapshot()
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
