package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "commentflow"

// Metrics 评论自动化引擎的 Prometheus 指标
// 所有方法对 nil 接收者安全，测试和 CLI 场景可以不注册指标
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	Skips          *prometheus.CounterVec
	PlatformCalls  *prometheus.CounterVec
	ProcessingTime prometheus.Histogram
	QueueDepth     prometheus.Gauge
	QueueDropped   prometheus.Counter
	RateLimitDrops *prometheus.CounterVec

	registry *prometheus.Registry
}

// New 创建并注册指标；reg 为 nil 时使用独立的 Registry
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comment_outcomes_total",
			Help:      "Per-automation comment processing outcomes",
		}, []string{"outcome"}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comment_skips_total",
			Help:      "Comments an automation chose not to act on, by reason",
		}, []string{"reason"}),
		PlatformCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_calls_total",
			Help:      "Outbound platform calls by action and result",
		}, []string{"action", "result"}),
		ProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "comment_processing_seconds",
			Help:      "Time to process one comment for one automation",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "webhook_queue_depth",
			Help:      "Comment events waiting for the dispatcher",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_queue_dropped_total",
			Help:      "Comment events dropped because the dispatcher queue was full",
		}),
		RateLimitDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limit_drops_total",
			Help:      "HTTP requests rejected with 429, by path prefix",
		}, []string{"prefix"}),
		registry: reg,
	}
	reg.MustRegister(m.Outcomes, m.Skips, m.PlatformCalls, m.ProcessingTime,
		m.QueueDepth, m.QueueDropped, m.RateLimitDrops)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
	m.ProcessingTime.Observe(seconds)
}

func (m *Metrics) IncSkip(reason string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObservePlatformCall(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PlatformCalls.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) IncQueueDropped() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

// IncRateLimitDrop counts an HTTP 429. Use prefix "global" for global limiter rejections.
func (m *Metrics) IncRateLimitDrop(prefix string) {
	if m == nil {
		return
	}
	if prefix == "" {
		prefix = "global"
	}
	m.RateLimitDrops.WithLabelValues(prefix).Inc()
}
