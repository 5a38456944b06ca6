// Package metrics 数据一致性层的 Prometheus 指标
//
// 每个实例使用独立的 Registry，测试中可以并行创建多个实例而不会重复注册。
// 所有方法对 nil 接收者安全，未启用指标的组件可以直接传 nil。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 核心指标
type Metrics struct {
	registry *prometheus.Registry

	// 写协调器指标
	WriteLockWait *prometheus.HistogramVec
	WritesTotal   *prometheus.CounterVec

	// 内容处理指标
	ProcessingQueueLength prometheus.Gauge
	ProcessingResults     *prometheus.CounterVec

	// 事件指标
	EventsTotal        *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge

	// 缓存指标
	CachedAccounts prometheus.Gauge

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New 创建指标实例
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		WriteLockWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_lock_wait_seconds",
				Help:      "Time spent waiting for a write lock",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"path"},
		),
		WritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_total",
				Help:      "Total write operations by path and result",
			},
			[]string{"path", "result"},
		),
		ProcessingQueueLength: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processing_queue_length",
				Help:      "Number of content items waiting for processing",
			},
		),
		ProcessingResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processing_results_total",
				Help:      "Content processing results",
			},
			[]string{"result"},
		),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connected_events_total",
				Help:      "Connected events by outcome (sent or dropped)",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications by delivery path (live or push)",
			},
			[]string{"delivery"},
		),
		WSConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
		CachedAccounts: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_accounts",
				Help:      "Accounts present in the in-memory cache",
			},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
	}
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWrite 记录一次写操作
func (m *Metrics) ObserveWrite(path string, wait time.Duration, err error) {
	if m == nil {
		return
	}
	m.WriteLockWait.WithLabelValues(path).Observe(wait.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WritesTotal.WithLabelValues(path, result).Inc()
}

// SetQueueLength 更新处理队列长度
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.ProcessingQueueLength.Set(float64(n))
}

// ProcessingResult 记录一次处理结果（completed / failed）
func (m *Metrics) ProcessingResult(result string) {
	if m == nil {
		return
	}
	m.ProcessingResults.WithLabelValues(result).Inc()
}

// ConnectedEvent 记录一次连接事件投递
func (m *Metrics) ConnectedEvent(sent bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !sent {
		outcome = "dropped"
	}
	m.EventsTotal.WithLabelValues(outcome).Inc()
}

// Notification 记录一次通知投递路径
func (m *Metrics) Notification(live bool) {
	if m == nil {
		return
	}
	delivery := "live"
	if !live {
		delivery = "push"
	}
	m.NotificationsTotal.WithLabelValues(delivery).Inc()
}

// WSConnected WebSocket 连接数 +1/-1
func (m *Metrics) WSConnected(delta int) {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Add(float64(delta))
}

// SetCachedAccounts 更新缓存账号数
func (m *Metrics) SetCachedAccounts(n int) {
	if m == nil {
		return
	}
	m.CachedAccounts.Set(float64(n))
}

// ObserveHTTP 记录一次 HTTP 请求，path 应是路由模式而不是原始路径
func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
