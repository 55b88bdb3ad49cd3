package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record* 方法对 nil 接收者安全，测试中可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 表单指标
	Submissions *prometheus.CounterVec // form, outcome

	// 限流指标
	RateLimitDecisions *prometheus.CounterVec // purpose, decision
	RateLimitErrors    *prometheus.CounterVec // purpose

	// 通知指标
	NotificationsSent   *prometheus.CounterVec // status: sent | failed
	NotificationBatches *prometheus.CounterVec // outcome
	NotificationLatency prometheus.Histogram

	// 外部源指标
	FeedFetches *prometheus.CounterVec // source, outcome
	FeedCache   *prometheus.CounterVec // source, result: hit | miss

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标（使用独立的 Registry）
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harpans_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_form_submissions_total",
				Help: "Form submissions by form and outcome",
			},
			[]string{"form", "outcome"},
		),

		RateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_ratelimit_decisions_total",
				Help: "Rate limiter decisions by purpose",
			},
			[]string{"purpose", "decision"},
		),

		RateLimitErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_ratelimit_backend_errors_total",
				Help: "Rate limiter backend errors (request allowed)",
			},
			[]string{"purpose"},
		),

		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_notification_emails_total",
				Help: "Publish notification emails by status",
			},
			[]string{"status"},
		),

		NotificationBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_notification_batches_total",
				Help: "Publish notification dispatch outcomes",
			},
			[]string{"outcome"},
		),

		NotificationLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harpans_notification_batch_duration_seconds",
				Help:    "Time spent sending one notification batch",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),

		FeedFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_feed_fetches_total",
				Help: "External feed fetches by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		FeedCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_feed_cache_total",
				Help: "External feed cache lookups",
			},
			[]string{"source", "result"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harpans_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "harpans_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSubmission 记录表单处理结果
func (m *Metrics) RecordSubmission(form, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(form, outcome).Inc()
}

// RecordRateLimit 记录限流判定
func (m *Metrics) RecordRateLimit(purpose string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "blocked"
	}
	m.RateLimitDecisions.WithLabelValues(purpose, decision).Inc()
}

// RecordRateLimitError 记录限流后端错误
func (m *Metrics) RecordRateLimitError(purpose string) {
	if m == nil {
		return
	}
	m.RateLimitErrors.WithLabelValues(purpose).Inc()
}

// RecordNotificationBatch 记录一次通知发送
func (m *Metrics) RecordNotificationBatch(outcome string, sent, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.NotificationBatches.WithLabelValues(outcome).Inc()
	m.NotificationsSent.WithLabelValues("sent").Add(float64(sent))
	m.NotificationsSent.WithLabelValues("failed").Add(float64(failed))
	if duration > 0 {
		m.NotificationLatency.Observe(duration.Seconds())
	}
}

// RecordFeedFetch 记录外部源抓取
func (m *Metrics) RecordFeedFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.FeedFetches.WithLabelValues(source, outcome).Inc()
}

// RecordFeedCache 记录缓存命中情况
func (m *Metrics) RecordFeedCache(source string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.FeedCache.WithLabelValues(source, result).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
