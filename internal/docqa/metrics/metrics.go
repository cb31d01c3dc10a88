// Package metrics 提供 docqa 服务的 Prometheus 指标。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docqa"

var (
	// QueriesTotal 按结果统计查询次数（answered/refused/guarded/error）。
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of queries by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration 查询各阶段耗时。
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// DocumentsIndexed 按结果统计文档索引次数。
	DocumentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of indexed documents by status",
		},
		[]string{"status"},
	)

	// ChunksIndexed 已写入索引的文档块数。
	ChunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the vector index",
		},
	)

	// Compactions 按结果统计对话记录压缩次数。
	Compactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_compactions_total",
			Help:      "Total number of memory log compactions by status",
		},
		[]string{"status"},
	)

	// ActiveSessions 当前会话数。
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions held in memory",
		},
	)

	// SessionsRemoved 按原因统计被删除的会话（expired/cleanup）。
	SessionsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Total number of removed sessions by reason",
		},
		[]string{"reason"},
	)

	// HTTPRequests 按路由和状态码统计请求数。
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration 请求耗时分布。
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)
)

// 查询结果标签。
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeGuarded  = "guarded"
	OutcomeError    = "error"
)

// ObserveStage 记录阶段耗时。
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordIndex 记录一次文档索引。
func RecordIndex(chunks int, err error) {
	if err != nil {
		DocumentsIndexed.WithLabelValues("error").Inc()
		return
	}
	DocumentsIndexed.WithLabelValues("success").Inc()
	ChunksIndexed.Add(float64(chunks))
}

// RecordCompaction 记录一次压缩。
func RecordCompaction(err error) {
	if err != nil {
		Compactions.WithLabelValues("error").Inc()
		return
	}
	Compactions.WithLabelValues("success").Inc()
}

// Middleware 返回记录 HTTP 指标的 gin 中间件。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回 Prometheus 指标导出处理器。
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
