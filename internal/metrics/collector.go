package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// MCP 工具调用指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// 上游 Gemini 指标
	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec
	upstreamTokensUsed      *prometheus.CounterVec

	// 翻译指标
	translationsTotal *prometheus.CounterVec

	// 图像存储指标
	imagesSavedTotal  *prometheus.CounterVec
	imageBytesWritten prometheus.Counter
	imagesSweptTotal  prometheus.Counter
	imagesOnDisk      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// MCP 工具调用指标
	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tool"},
	)

	// 上游 Gemini 指标
	c.upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream Gemini API requests",
		},
		[]string{"model", "operation", "status"},
	)

	c.upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream Gemini API request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model", "operation"},
	)

	c.upstreamTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_tokens_used_total",
			Help:      "Total number of tokens reported by the upstream API",
		},
		[]string{"model", "operation"},
	)

	// 翻译指标
	c.translationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Total number of prompt translation attempts",
		},
		[]string{"outcome"}, // translated, skipped, fallback
	)

	// 图像存储指标
	c.imagesSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_saved_total",
			Help:      "Total number of images persisted to disk",
		},
		[]string{"mime_type"},
	)

	c.imageBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_bytes_written_total",
			Help:      "Total image bytes written to disk",
		},
	)

	c.imagesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_swept_total",
			Help:      "Total number of expired images removed by the sweeper",
		},
	)

	c.imagesOnDisk = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "images_on_disk",
			Help:      "Number of images currently in the output directory",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🛠️ 工具调用指标记录
// =============================================================================

// RecordToolCall 记录一次 MCP 工具调用
func (c *Collector) RecordToolCall(tool, status string, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 上游请求指标记录
// =============================================================================

// RecordUpstreamRequest 记录一次上游 Gemini 请求
func (c *Collector) RecordUpstreamRequest(model, operation, status string, duration time.Duration, tokens int) {
	c.upstreamRequestsTotal.WithLabelValues(model, operation, status).Inc()
	c.upstreamRequestDuration.WithLabelValues(model, operation).Observe(duration.Seconds())
	if tokens > 0 {
		c.upstreamTokensUsed.WithLabelValues(model, operation).Add(float64(tokens))
	}
}

// =============================================================================
// 🌐 翻译指标记录
// =============================================================================

// RecordTranslation 记录一次翻译结果（translated / skipped / fallback）
func (c *Collector) RecordTranslation(outcome string) {
	c.translationsTotal.WithLabelValues(outcome).Inc()
}

// =============================================================================
// 💾 图像存储指标记录
// =============================================================================

// RecordImageSaved 记录一次图像落盘
func (c *Collector) RecordImageSaved(mimeType string, size int64) {
	c.imagesSavedTotal.WithLabelValues(mimeType).Inc()
	c.imageBytesWritten.Add(float64(size))
}

// RecordSweep 记录一次过期清理
func (c *Collector) RecordSweep(removed int, remaining int) {
	c.imagesSweptTotal.Add(float64(removed))
	c.imagesOnDisk.Set(float64(remaining))
}
