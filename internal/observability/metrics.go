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
	ConnectedClients prometheus.Gauge
	WSMessages       *prometheus.CounterVec
	TaskEvents       *prometheus.CounterVec
	DecisionRaces    prometheus.Counter
	AgentTurns       *prometheus.CounterVec
	ApprovalLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of dashboard clients currently connected.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by resulting status.",
		}, []string{"status"}),
		DecisionRaces: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_races_total",
			Help:      "Decisions that lost the race to an already resolved task.",
		}),
		AgentTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent conversation turns by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ApprovalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_latency_seconds",
			Help:      "Time from task creation to a human decision in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) ObserveApprovalLatency(d time.Duration) {
	m.ApprovalLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
