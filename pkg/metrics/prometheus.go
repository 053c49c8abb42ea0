// Package metrics exposes Prometheus instrumentation for the pipeline
// and the trading simulation.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all application metrics.
type Collector struct {
	// Pipeline metrics
	SessionsTotal  *prometheus.CounterVec
	AgentRunsTotal *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec
	LLMTokensTotal *prometheus.CounterVec

	// Market metrics
	OrdersTotal  *prometheus.CounterVec
	TradesTotal  prometheus.Counter
	TradeVolume  prometheus.Counter
	RoundsTotal  prometheus.Counter
	QuoteLatency prometheus.Histogram

	// API metrics
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec

	// WebSocket metrics
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
}

// GetCollector returns the process-wide metrics collector.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "sessions",
			Name:      "total",
			Help:      "Sessions by terminal status",
		},
		[]string{"status"},
	)

	c.AgentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "agents",
			Name:      "runs_total",
			Help:      "Worker invocations by phase and outcome",
		},
		[]string{"phase", "status"},
	)

	c.PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foresight",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration per pipeline phase",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	c.LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM tokens consumed",
		},
		[]string{"kind"},
	)

	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "market",
			Name:      "orders_total",
			Help:      "Orders placed by side",
		},
		[]string{"side"},
	)

	c.TradesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "market",
			Name:      "trades_total",
			Help:      "Trades executed",
		},
	)

	c.TradeVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "market",
			Name:      "trade_volume_contracts",
			Help:      "Contracts traded",
		},
	)

	c.RoundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "sim",
			Name:      "rounds_total",
			Help:      "Trading rounds executed",
		},
	)

	c.QuoteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "foresight",
			Subsystem: "sim",
			Name:      "quote_latency_seconds",
			Help:      "Latency of one trader's decide-and-quote cycle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	c.APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests",
		},
		[]string{"method", "path", "status"},
	)

	c.APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foresight",
			Subsystem: "api",
			Name:      "request_latency_seconds",
			Help:      "API request latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "path"},
	)

	c.WSConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "foresight",
			Subsystem: "websocket",
			Name:      "connections_active",
			Help:      "Active WebSocket connections",
		},
	)

	c.WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foresight",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "WebSocket messages delivered",
		},
		[]string{"channel"},
	)

	c.registerAll()
	return c
}

func (c *Collector) registerAll() {
	prometheus.MustRegister(c.SessionsTotal)
	prometheus.MustRegister(c.AgentRunsTotal)
	prometheus.MustRegister(c.PhaseDuration)
	prometheus.MustRegister(c.LLMTokensTotal)

	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.TradesTotal)
	prometheus.MustRegister(c.TradeVolume)
	prometheus.MustRegister(c.RoundsTotal)
	prometheus.MustRegister(c.QuoteLatency)

	prometheus.MustRegister(c.APIRequestsTotal)
	prometheus.MustRegister(c.APIRequestLatency)

	prometheus.MustRegister(c.WSConnectionsActive)
	prometheus.MustRegister(c.WSMessagesTotal)
}

// RecordSession records a session reaching a terminal status.
func (c *Collector) RecordSession(status string) {
	c.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordAgentRun records one worker invocation outcome.
func (c *Collector) RecordAgentRun(phase, status string) {
	c.AgentRunsTotal.WithLabelValues(phase, status).Inc()
}

// RecordTokens records LLM token consumption.
func (c *Collector) RecordTokens(prompt, completion int) {
	c.LLMTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	c.LLMTokensTotal.WithLabelValues("completion").Add(float64(completion))
}

// RecordOrder records one placed order.
func (c *Collector) RecordOrder(side string) {
	c.OrdersTotal.WithLabelValues(side).Inc()
}

// RecordTrades records executions and volume from one matching pass.
func (c *Collector) RecordTrades(count, volume int) {
	c.TradesTotal.Add(float64(count))
	c.TradeVolume.Add(float64(volume))
}

// RecordAPIRequest records one served request.
func (c *Collector) RecordAPIRequest(method, path, status string, seconds float64) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(seconds)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
