package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 消息指标
	MessagesTotal    *prometheus.CounterVec
	ThreadsActive    prometheus.Gauge
	RepliesAttached  prometheus.Counter
	MessagesRejected *prometheus.CounterVec

	// 升级通知指标
	EscalationsTotal *prometheus.CounterVec

	// WebSocket 指标
	WebSocketClients       prometheus.Gauge
	WebSocketSubscriptions prometheus.Gauge

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propchat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "propchat_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "propchat_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "propchat_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 消息指标
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propchat_messages_total",
				Help: "Total number of chat messages stored",
			},
			[]string{"origin"},
		),

		ThreadsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "propchat_threads_active",
				Help: "Number of distinct conversation threads",
			},
		),

		RepliesAttached: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "propchat_replies_attached_total",
				Help: "Total number of replies attached to visitor messages",
			},
		),

		MessagesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propchat_messages_rejected_total",
				Help: "Total number of rejected chat messages",
			},
			[]string{"reason"},
		),

		// 升级通知指标
		EscalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propchat_escalations_total",
				Help: "Total number of escalation notification attempts",
			},
			[]string{"outcome"},
		),

		// WebSocket 指标
		WebSocketClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "propchat_websocket_clients",
				Help: "Number of connected WebSocket clients",
			},
		),

		WebSocketSubscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "propchat_websocket_subscriptions",
				Help: "Number of active channel subscriptions",
			},
		),

		// 系统指标
		SystemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "propchat_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "propchat_database_connections",
				Help: "Number of open database connections",
			},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propchat_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "propchat_panics_total",
				Help: "Total number of panics recovered",
			},
		),

		// 限流指标
		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propchat_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
			[]string{"limit_type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordMessageStored 记录一条已落库的消息，origin 取 visitor 或 operator
func (m *Metrics) RecordMessageStored(origin string) {
	m.MessagesTotal.WithLabelValues(origin).Inc()
}

// RecordMessageRejected 记录一条被拒绝的消息
func (m *Metrics) RecordMessageRejected(reason string) {
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// RecordReplyAttached 记录一次旧编码回复挂载
func (m *Metrics) RecordReplyAttached() {
	m.RepliesAttached.Inc()
}

// RecordEscalation 记录一次升级决策，outcome 取 sent、suppressed、failed，
// 任务队列满时为 dropped
func (m *Metrics) RecordEscalation(outcome string) {
	m.EscalationsTotal.WithLabelValues(outcome).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拦截
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateThreadsActive 更新会话总数
func (m *Metrics) UpdateThreadsActive(count int) {
	m.ThreadsActive.Set(float64(count))
}

// UpdateWebSocketClients 更新在线连接数
func (m *Metrics) UpdateWebSocketClients(count int) {
	m.WebSocketClients.Set(float64(count))
}

// UpdateWebSocketSubscriptions 更新订阅数
func (m *Metrics) UpdateWebSocketSubscriptions(count int) {
	m.WebSocketSubscriptions.Set(float64(count))
}

// UpdateSystemUptime 更新运行时长
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// HTTPHandler 返回 Prometheus 指标处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
