// Package metrics 提供客户端的 Prometheus 监控指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collectors 客户端全部指标
type Collectors struct {
	registry *prometheus.Registry

	// contractCalls 合约调用次数（按方法和结果分类）
	contractCalls *prometheus.CounterVec
	// contractDuration 合约调用耗时
	contractDuration *prometheus.HistogramVec
	// historyTier 历史记录由哪一层读取路径提供
	historyTier *prometheus.CounterVec
	// metadataFetch 元数据获取结果（ok, cached, placeholder）
	metadataFetch *prometheus.CounterVec
	// sessionTransitions 会话状态迁移
	sessionTransitions *prometheus.CounterVec
	// apiRequests HTTP API 请求
	apiRequests *prometheus.CounterVec
}

// New 创建并注册指标，每个实例使用独立的 registry
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		contractCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelf",
			Subsystem: "contract",
			Name:      "calls_total",
			Help:      "Total number of contract calls by method, kind and result",
		}, []string{"method", "kind", "result"}),
		contractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shelf",
			Subsystem: "contract",
			Name:      "call_duration_seconds",
			Help:      "Contract call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
		}, []string{"method", "kind"}),
		historyTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelf",
			Subsystem: "history",
			Name:      "tier_total",
			Help:      "History reads by serving tier (modern, legacy, scan, unavailable)",
		}, []string{"scope", "tier"}),
		metadataFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelf",
			Subsystem: "metadata",
			Name:      "fetch_total",
			Help:      "Metadata lookups by result",
		}, []string{"result"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelf",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"to"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shelf",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
	}

	c.registry.MustRegister(
		c.contractCalls,
		c.contractDuration,
		c.historyTier,
		c.metadataFetch,
		c.sessionTransitions,
		c.apiRequests,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry 返回指标注册表，供 /metrics 使用
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveContractCall 记录一次合约调用，kind 为 call 或 send
func (c *Collectors) ObserveContractCall(method, kind string, started time.Time, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.contractCalls.WithLabelValues(method, kind, result).Inc()
	c.contractDuration.WithLabelValues(method, kind).Observe(time.Since(started).Seconds())
}

// IncHistoryTier 记录历史读取层级
func (c *Collectors) IncHistoryTier(scope, tier string) {
	if c == nil {
		return
	}
	c.historyTier.WithLabelValues(scope, tier).Inc()
}

// IncMetadata 记录元数据获取结果
func (c *Collectors) IncMetadata(result string) {
	if c == nil {
		return
	}
	c.metadataFetch.WithLabelValues(result).Inc()
}

// IncSession 记录会话状态迁移
func (c *Collectors) IncSession(to string) {
	if c == nil {
		return
	}
	c.sessionTransitions.WithLabelValues(to).Inc()
}

// IncAPIRequest 记录 API 请求
func (c *Collectors) IncAPIRequest(method, path string, status string) {
	if c == nil {
		return
	}
	c.apiRequests.WithLabelValues(method, path, status).Inc()
}
