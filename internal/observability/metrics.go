package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SessionEvents     *prometheus.CounterVec
	ChatRequests      *prometheus.CounterVec
	PolicyFlags       *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	Compactions       *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ReactionEvents    *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec

	namespace string
	perf      *perfWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat exchanges by outcome.",
		}, []string{"outcome"}),
		PolicyFlags: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_flags_total",
			Help:      "Policy classifications of inbound and outbound text.",
		}, []string{"flag"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Completion provider errors by call and code.",
		}, []string{"call", "code"}),
		Compactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "History compactions by result.",
		}, []string{"result"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ReactionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaction_events_total",
			Help:      "Reaction webhook deliveries by kind.",
		}, []string{"kind"}),
		GenerationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Completion service latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"call"}),
		namespace: namespace,
		perf:      newPerfWindow(256),
	}
}

// TrackActiveSessions exports the value of count at scrape time.
func (m *Metrics) TrackActiveSessions(count func() int) {
	if m == nil {
		return
	}
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "active_sessions",
		Help:      "Number of sessions with tracked activity.",
	}, func() float64 { return float64(count()) })
}

// SetCallBudget sets the latency a completion call should stay under,
// normally the completion timeout.
func (m *Metrics) SetCallBudget(call string, d time.Duration) {
	if m == nil {
		return
	}
	m.perf.setBudget(call, float64(d.Milliseconds()))
}

// ObserveGeneration records a completion call. call is "generate" or
// "summarize".
func (m *Metrics) ObserveGeneration(call string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.GenerationLatency.WithLabelValues(call).Observe(ms)
	m.perf.observeCall(call, ms)
}

// ObserveFlag counts a policy classification such as "emergency".
func (m *Metrics) ObserveFlag(name string) {
	if m == nil {
		return
	}
	m.PolicyFlags.WithLabelValues(name).Inc()
	m.perf.observeFlag(name)
}

// ObserveCompaction records a completed compaction pass.
func (m *Metrics) ObserveCompaction(before, after int, degraded bool) {
	if m == nil {
		return
	}
	result := "summarized"
	if degraded {
		result = "degraded"
	}
	m.Compactions.WithLabelValues(result).Inc()
	m.perf.observeCompaction(before, after, degraded)
}

func (m *Metrics) SnapshotPerf() PerfSnapshot {
	if m == nil {
		return PerfSnapshot{GeneratedAt: time.Now().UTC(), Calls: []CallLatency{}, Flags: map[string]int{}}
	}
	return m.perf.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
