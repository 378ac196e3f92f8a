// Package metrics provides the Prometheus collector for ingest, query,
// embedding and storage metrics.
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
// 实现 embedding.Recorder 与 rag.MetricsRecorder
type Collector struct {
	// 摄取指标
	ingestChunksTotal *prometheus.CounterVec
	ingestDuration    prometheus.Histogram

	// 查询指标
	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	retrievalCache *prometheus.CounterVec

	// 生成指标
	generationRequestsTotal *prometheus.CounterVec
	generationDuration      *prometheus.HistogramVec

	// 嵌入指标
	embeddingCache    *prometheus.CounterVec
	embeddingDegraded *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegistry 创建指标收集器并注册到指定 Registry
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 摄取指标
	c.ingestChunksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_chunks_total",
			Help:      "Total number of chunks processed during ingest",
		},
		[]string{"status"}, // stored, failed
	)

	c.ingestDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Document ingest duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// 查询指标
	c.queriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of queries by final orchestrator state",
		},
		[]string{"strategy", "state"},
	)

	c.queryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	c.retrievalCache = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_cache_requests_total",
			Help:      "Retrieval result cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// 生成指标
	c.generationRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.generationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// 嵌入指标
	c.embeddingCache = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_requests_total",
			Help:      "Embedding cache lookups",
		},
		[]string{"backend", "result"},
	)

	c.embeddingDegraded = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_degraded_total",
			Help:      "Texts embedded by the hashing fallback",
		},
		[]string{"provider"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Vector store query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 📥 摄取与查询
// =============================================================================

// RecordIngest 记录一次文档摄取
func (c *Collector) RecordIngest(stored, failed int, duration time.Duration) {
	c.ingestChunksTotal.WithLabelValues("stored").Add(float64(stored))
	c.ingestChunksTotal.WithLabelValues("failed").Add(float64(failed))
	c.ingestDuration.Observe(duration.Seconds())
}

// RecordQuery 记录一次查询及其终态
func (c *Collector) RecordQuery(strategy, state string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(strategy, state).Inc()
	c.queryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordRetrievalCache 记录检索结果缓存命中
func (c *Collector) RecordRetrievalCache(hit bool) {
	c.retrievalCache.WithLabelValues(hitLabel(hit)).Inc()
}

// =============================================================================
// 🤖 生成
// =============================================================================

// RecordGeneration 记录生成请求
func (c *Collector) RecordGeneration(provider, model, status string, duration time.Duration) {
	c.generationRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.generationDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// =============================================================================
// 🧮 嵌入
// =============================================================================

// RecordEmbeddingCache 记录嵌入缓存命中
func (c *Collector) RecordEmbeddingCache(backend string, hit bool) {
	c.embeddingCache.WithLabelValues(backend, hitLabel(hit)).Inc()
}

// RecordEmbeddingDegraded 记录降级嵌入条数
func (c *Collector) RecordEmbeddingDegraded(provider string, count int) {
	c.embeddingDegraded.WithLabelValues(provider).Add(float64(count))
}

// =============================================================================
// 🗄️ 数据库
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录向量存储操作耗时
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
