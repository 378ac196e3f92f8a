// Config → RAG 桥接层。
//
// 提供工厂函数，将全局 config.Config 转换为 rag 包的运行时实例，
// 消除 config 包和 rag 包之间的手动配置映射。
package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/cache"
	"github.com/BaSui01/ragcore/internal/database"
	"github.com/BaSui01/ragcore/internal/metrics"
	llmctx "github.com/BaSui01/ragcore/llm/context"
	"github.com/BaSui01/ragcore/llm/embedding"
	"github.com/BaSui01/ragcore/llm/generation"
	"github.com/BaSui01/ragcore/types"
)

// VectorStoreType 向量存储后端（封闭集合）
type VectorStoreType string

const (
	VectorStoreMemory   VectorStoreType = "memory"
	VectorStoreSQLite   VectorStoreType = "sqlite"
	VectorStorePostgres VectorStoreType = "postgres"
	VectorStoreMySQL    VectorStoreType = "mysql"
	VectorStoreMongoDB  VectorStoreType = "mongodb"
)

// StoreDeps 创建存储时可选的外部依赖
type StoreDeps struct {
	// PoolReporter 接收连接池统计（SQL 后端）
	PoolReporter database.StatsReporter
	// QueryRecorder 接收 SQL 操作耗时（SQL 后端）
	QueryRecorder QueryRecorder
}

// NewVectorStoreFromConfig 按 storage.backend 创建向量存储，维度取 embedding.dimension
func NewVectorStoreFromConfig(ctx context.Context, cfg *config.Config, deps StoreDeps, logger *zap.Logger) (VectorStore, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dim := cfg.Embedding.Dimension

	switch VectorStoreType(cfg.Storage.Backend) {
	case VectorStoreMemory, "":
		return NewInMemoryVectorStore(dim, logger)

	case VectorStoreSQLite, VectorStorePostgres, VectorStoreMySQL:
		driver := cfg.Storage.Backend
		var poolOpts []database.PoolOption
		poolOpts = append(poolOpts, database.WithName("rag_"+driver))
		if deps.PoolReporter != nil {
			poolOpts = append(poolOpts, database.WithStatsReporter(deps.PoolReporter))
		}
		pool, err := database.Open(driver, cfg.Storage.Database, logger, poolOpts...)
		if err != nil {
			return nil, types.NewProviderUnavailableError(driver, err)
		}
		var storeOpts []SQLStoreOption
		if deps.QueryRecorder != nil {
			storeOpts = append(storeOpts, WithQueryRecorder(deps.QueryRecorder))
		}
		store, err := NewSQLVectorStore(ctx, pool, driver, dim, logger, storeOpts...)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil

	case VectorStoreMongoDB:
		return NewMongoVectorStore(ctx, cfg.Storage.MongoDB, dim, logger)

	default:
		return nil, types.NewConfigurationError("unsupported vector store backend %q", cfg.Storage.Backend)
	}
}

// NewChunkerFromConfig 按 chunking.* 创建分块器，token 计数按生成模型从分词器注册表选择
func NewChunkerFromConfig(cfg *config.Config, logger *zap.Logger) (*DocumentChunker, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	return NewDocumentChunker(ChunkingConfigFrom(cfg.Chunking), tokenizerFor(cfg, logger), logger)
}

func tokenizerFor(cfg *config.Config, logger *zap.Logger) Tokenizer {
	return ResolveTokenizer(cfg.Generation.Model, cfg.Generation.MaxTokens, logger)
}

// NewRetrieverFromConfig 按 retrieval.* 创建检索器
func NewRetrieverFromConfig(cfg *config.Config, store VectorStore, embedder embedding.Provider, logger *zap.Logger) (*Retriever, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	return NewRetriever(store, embedder, RetrievalConfigFrom(cfg.Retrieval), logger)
}

// NewPromptBuilderFromConfig 按 generation.max_tokens 创建 prompt 构建器
func NewPromptBuilderFromConfig(cfg *config.Config, logger *zap.Logger) (*PromptBuilder, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	return NewPromptBuilder("", cfg.Generation.MaxTokens, tokenizerFor(cfg, logger))
}

// BuildOptions 组装编排器时可选的共享基础设施
type BuildOptions struct {
	// CacheManager Redis 连接；embedding 的 redis 缓存与 redis 会话存储需要
	CacheManager *cache.Manager
	// Metrics Prometheus 指标收集器
	Metrics *metrics.Collector
}

// NewOrchestratorFromConfig 按完整配置组装编排器。
// 失败时已创建的存储会被关闭。
func NewOrchestratorFromConfig(ctx context.Context, cfg *config.Config, opts BuildOptions, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		embRecorder embedding.Recorder
		deps        StoreDeps
		retrOpts    []RetrieverOption
		recorder    MetricsRecorder
	)
	if opts.Metrics != nil {
		embRecorder = opts.Metrics
		deps = StoreDeps{PoolReporter: opts.Metrics, QueryRecorder: opts.Metrics}
		retrOpts = append(retrOpts, WithCacheRecorder(opts.Metrics))
		recorder = opts.Metrics
	}

	embedder, err := embedding.NewProviderFromConfig(cfg.Embedding, opts.CacheManager, embRecorder, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	chunker, err := NewChunkerFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create chunker: %w", err)
	}
	reranker, err := NewRerankerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	prompt, err := NewPromptBuilderFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create prompt builder: %w", err)
	}
	generator, err := generation.NewGeneratorFromConfig(cfg.Generation, logger)
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	var rdb redis.UniversalClient
	if opts.CacheManager != nil {
		rdb = opts.CacheManager.Client()
	}
	sessions, err := llmctx.NewManagerFromConfig(cfg, rdb, logger)
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	store, err := NewVectorStoreFromConfig(ctx, cfg, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	retriever, err := NewRetriever(store, embedder, RetrievalConfigFrom(cfg.Retrieval), logger, retrOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create retriever: %w", err)
	}

	o, err := NewOrchestrator(Components{
		Chunker:    chunker,
		Embedder:   embedder,
		Store:      store,
		Retriever:  retriever,
		Reranker:   reranker,
		RerankTopN: cfg.Retrieval.RerankTopN,
		Prompt:     prompt,
		Generator:  generator,
		Sessions:   sessions,
		Metrics:    recorder,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("rag orchestrator initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("strategy", cfg.Retrieval.Strategy),
		zap.Bool("reranking", reranker != nil),
		zap.String("generation", cfg.Generation.Provider),
		zap.String("context_store", cfg.Context.Store))
	return o, nil
}

// NewRerankerFromConfig 按 retrieval.reranker 创建重排器；未启用时返回 nil
func NewRerankerFromConfig(cfg *config.Config) (Reranker, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	if !cfg.Retrieval.RerankingEnabled {
		return nil, nil
	}
	r, err := NewReranker(RerankerType(cfg.Retrieval.Reranker), RerankerOptions{TopN: cfg.Retrieval.RerankTopN})
	if err != nil {
		return nil, fmt.Errorf("create reranker: %w", err)
	}
	return r, nil
}
