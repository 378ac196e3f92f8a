package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/llm/embedding"
	"github.com/BaSui01/ragcore/llm/retry"
	"github.com/BaSui01/ragcore/types"
)

// RetrievalStrategy 检索策略
type RetrievalStrategy string

const (
	StrategySemantic RetrievalStrategy = "semantic"
	StrategyKeyword  RetrievalStrategy = "keyword"
	StrategyHybrid   RetrievalStrategy = "hybrid"
)

// Valid 判断策略是否受支持
func (s RetrievalStrategy) Valid() bool {
	switch s {
	case StrategySemantic, StrategyKeyword, StrategyHybrid:
		return true
	}
	return false
}

// RetrievedCandidate 检索候选。Score 为最终排序分数，Rank 从 1 开始；
// 各子分数保留用于溯源。
type RetrievedCandidate struct {
	Chunk         Chunk   `json:"chunk"`
	Score         float64 `json:"score"`
	Rank          int     `json:"rank"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score"`
	RerankScore   float64 `json:"rerank_score,omitempty"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	Strategy       RetrievalStrategy `json:"strategy"`
	TopK           int               `json:"top_k"`
	SemanticWeight float64           `json:"semantic_weight"`
	KeywordWeight  float64           `json:"keyword_weight"`
	MaxRetries     int               `json:"max_retries"`
	RetryDelay     time.Duration     `json:"retry_delay"`
	CacheEnabled   bool              `json:"cache_enabled"`
	CacheSize      int               `json:"cache_size"`
	CacheTTL       time.Duration     `json:"cache_ttl"`
}

// DefaultRetrievalConfig 默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfigFrom(config.DefaultRetrievalConfig())
}

// RetrievalConfigFrom 从全局配置转换
func RetrievalConfigFrom(c config.RetrievalConfig) RetrievalConfig {
	return RetrievalConfig{
		Strategy:       RetrievalStrategy(c.Strategy),
		TopK:           c.TopK,
		SemanticWeight: c.SemanticWeight,
		KeywordWeight:  c.KeywordWeight,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     c.RetryDelay,
		CacheEnabled:   c.CacheEnabled,
		CacheSize:      c.CacheSize,
		CacheTTL:       c.CacheTTL,
	}
}

// Validate 校验检索配置
func (c RetrievalConfig) Validate() error {
	if !c.Strategy.Valid() {
		return types.NewConfigurationError("unknown retrieval strategy %q", c.Strategy)
	}
	if c.TopK <= 0 {
		return types.NewConfigurationError("retrieval top_k must be positive, got %d", c.TopK)
	}
	if c.SemanticWeight < 0 || c.KeywordWeight < 0 {
		return types.NewConfigurationError("retrieval weights must not be negative")
	}
	if c.MaxRetries < 0 {
		return types.NewConfigurationError("retrieval max_retries must not be negative")
	}
	return nil
}

// RetrieveOptions 单次检索参数，零值字段使用配置默认值
type RetrieveOptions struct {
	Strategy RetrievalStrategy
	TopK     int
	Filter   Metadata
}

// RetrievalOutcome 检索结果及其状态
type RetrievalOutcome struct {
	Candidates []RetrievedCandidate
	Strategy   RetrievalStrategy
	// Degraded 查询向量来自哈希降级嵌入，或混合检索退化为仅关键词
	Degraded bool
	CacheHit bool
}

// CacheRecorder 接收检索缓存命中事件（由 metrics.Collector 实现）
type CacheRecorder interface {
	RecordRetrievalCache(hit bool)
}

// Retriever 检索引擎。给定查询、存储状态与配置，结果确定。
type Retriever struct {
	store    VectorStore
	embedder embedding.Provider
	config   RetrievalConfig
	retryer  *retry.Retryer
	cache    *resultCache
	recorder CacheRecorder
	logger   *zap.Logger
}

// RetrieverOption 检索器选项
type RetrieverOption func(*Retriever)

// WithCacheRecorder 设置缓存命中记录器
func WithCacheRecorder(r CacheRecorder) RetrieverOption {
	return func(rt *Retriever) { rt.recorder = r }
}

// NewRetriever 创建检索器。embedder 可为 nil，此时仅支持关键词检索。
func NewRetriever(store VectorStore, embedder embedding.Provider, cfg RetrievalConfig, logger *zap.Logger, opts ...RetrieverOption) (*Retriever, error) {
	if store == nil {
		return nil, types.NewConfigurationError("retriever requires a vector store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder != nil && embedder.Dimensions() != store.Dimension() {
		return nil, types.NewConfigurationError("embedding dimension %d does not match store dimension %d",
			embedder.Dimensions(), store.Dimension())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "retriever"))

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	if cfg.RetryDelay > 0 {
		policy.InitialDelay = cfg.RetryDelay
	}

	r := &Retriever{
		store:    store,
		embedder: embedder,
		config:   cfg,
		retryer:  retry.NewRetryer(policy, logger),
		logger:   logger,
	}
	if cfg.CacheEnabled {
		r.cache = newResultCache(cfg.CacheSize, cfg.CacheTTL)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config 返回检索配置
func (r *Retriever) Config() RetrievalConfig { return r.config }

// InvalidateCache 清空结果缓存，存储写入后调用
func (r *Retriever) InvalidateCache() {
	if r.cache != nil {
		r.cache.invalidate()
	}
}

// Retrieve 执行检索，返回按最终顺序排列的候选
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]RetrievedCandidate, error) {
	out, err := r.RetrieveWithStatus(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// RetrieveWithStatus 执行检索并返回降级与缓存状态
func (r *Retriever) RetrieveWithStatus(ctx context.Context, query string, opts RetrieveOptions) (*RetrievalOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query must not be empty")
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = r.config.Strategy
	}
	if !strategy.Valid() {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown retrieval strategy %q", strategy))
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.config.TopK
	}
	var filter Metadata
	if len(opts.Filter) > 0 {
		filter = opts.Filter.Clone()
		if err := ValidateMetadata(filter); err != nil {
			return nil, err
		}
	}

	var key string
	if r.cache != nil {
		key = resultCacheKey(strategy, query, topK, r.config.SemanticWeight, r.config.KeywordWeight, filter)
		if out, ok := r.cache.get(key); ok {
			r.recordCache(true)
			out.CacheHit = true
			return &out, nil
		}
		r.recordCache(false)
	}

	var (
		out *RetrievalOutcome
		err error
	)
	switch strategy {
	case StrategySemantic:
		out, err = r.semantic(ctx, query, topK, filter)
	case StrategyKeyword:
		out, err = r.keyword(ctx, query, topK, filter)
	default:
		out, err = r.hybrid(ctx, query, topK, filter)
	}
	if err != nil {
		return nil, err
	}
	out.Strategy = strategy
	assignRanks(out.Candidates)

	if r.cache != nil {
		r.cache.set(key, *out)
	}

	r.logger.Debug("retrieval completed",
		zap.String("strategy", string(strategy)),
		zap.Int("top_k", topK),
		zap.Int("results", len(out.Candidates)),
		zap.Bool("degraded", out.Degraded))
	return out, nil
}

func (r *Retriever) recordCache(hit bool) {
	if r.recorder != nil {
		r.recorder.RecordRetrievalCache(hit)
	}
}

// semantic 嵌入查询后调用存储的相似度检索
func (r *Retriever) semantic(ctx context.Context, query string, topK int, filter Metadata) (*RetrievalOutcome, error) {
	if r.embedder == nil {
		return nil, types.NewConfigurationError("semantic retrieval requires an embedding provider")
	}
	vec, degraded, err := embedding.EmbedWithStatus(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cands, err := retry.DoWithResult(ctx, r.retryer, func(ctx context.Context) ([]RetrievedCandidate, error) {
		return r.store.SimilaritySearch(ctx, vec, topK, filter)
	})
	if err != nil {
		return nil, r.storeError(ctx, err)
	}
	return &RetrievalOutcome{Candidates: cands, Degraded: degraded}, nil
}

// keyword 按插入顺序扫描全部块，计算词重叠分数；零分块被排除
func (r *Retriever) keyword(ctx context.Context, query string, topK int, filter Metadata) (*RetrievalOutcome, error) {
	lister, ok := r.store.(ChunkLister)
	if !ok {
		return nil, types.NewConfigurationError("keyword retrieval requires a store that can list chunks")
	}
	qt := keywordTokens(query)
	if len(qt) == 0 {
		return &RetrievalOutcome{Candidates: []RetrievedCandidate{}}, nil
	}

	chunks, err := retry.DoWithResult(ctx, r.retryer, func(ctx context.Context) ([]Chunk, error) {
		return lister.ListChunks(ctx, filter)
	})
	if err != nil {
		return nil, r.storeError(ctx, err)
	}

	items := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if s := keywordScore(qt, keywordTokens(c.Text)); s > 0 {
			items = append(items, scoredChunk{chunk: c, score: s})
		}
	}
	cands := rankScored(items, topK)
	for i := range cands {
		cands[i].KeywordScore = cands[i].Score
		cands[i].SemanticScore = 0
		cands[i].Chunk = cloneChunk(cands[i].Chunk)
	}
	return &RetrievalOutcome{Candidates: cands}, nil
}

// hybrid 合并语义与关键词候选：H = w_sem*S + w_key*K，缺失项按 0 计。
// 权重为 0 的一路不参与候选集合。平局时语义顺序在前，其次关键词顺序。
func (r *Retriever) hybrid(ctx context.Context, query string, topK int, filter Metadata) (*RetrievalOutcome, error) {
	wSem, wKey := r.config.SemanticWeight, r.config.KeywordWeight
	out := &RetrievalOutcome{}

	var sem, kw []RetrievedCandidate
	if wSem > 0 || wKey == 0 {
		res, err := r.semantic(ctx, query, topK, filter)
		switch {
		case err == nil:
			sem, out.Degraded = res.Candidates, res.Degraded
		case types.IsProviderUnavailable(err) && !isRetrievalUnavailable(err) && wKey > 0:
			// 查询向量不可用时退化为仅关键词
			r.logger.Warn("query embedding unavailable, hybrid retrieval continues with keyword only", zap.Error(err))
			out.Degraded = true
		default:
			return nil, err
		}
	}
	if wKey > 0 {
		res, err := r.keyword(ctx, query, topK, filter)
		if err != nil {
			return nil, err
		}
		kw = res.Candidates
	}

	type fused struct {
		cand RetrievedCandidate
		sem  float64
		key  float64
	}
	merged := make([]*fused, 0, len(sem)+len(kw))
	byID := make(map[string]*fused, len(sem)+len(kw))
	for _, c := range sem {
		f := &fused{cand: c, sem: c.Score}
		byID[c.Chunk.ID] = f
		merged = append(merged, f)
	}
	for _, c := range kw {
		if f, ok := byID[c.Chunk.ID]; ok {
			f.key = c.Score
			continue
		}
		f := &fused{cand: c, key: c.Score}
		byID[c.Chunk.ID] = f
		merged = append(merged, f)
	}

	cands := make([]RetrievedCandidate, len(merged))
	for i, f := range merged {
		c := f.cand
		c.SemanticScore = f.sem
		c.KeywordScore = f.key
		c.Score = wSem*f.sem + wKey*f.key
		cands[i] = c
	}
	slices.SortStableFunc(cands, func(a, b RetrievedCandidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}
	out.Candidates = cands
	return out, nil
}

// storeError 重试耗尽后转换为 "retrieval unavailable"
func (r *Retriever) storeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, retry.ErrExhausted) {
		r.logger.Error("retrieval unavailable", zap.Error(err))
		return types.NewError(types.ErrProviderUnavailable, retrievalUnavailable).
			WithProvider("vector_store").
			WithRetryable(true).
			WithCause(err)
	}
	return err
}

const retrievalUnavailable = "retrieval unavailable"

func isRetrievalUnavailable(err error) bool {
	e, ok := types.AsError(err)
	return ok && e.Message == retrievalUnavailable
}

// IsRetrievalUnavailable 判断错误是否为存储重试耗尽
func IsRetrievalUnavailable(err error) bool { return isRetrievalUnavailable(err) }

func assignRanks(cands []RetrievedCandidate) {
	for i := range cands {
		cands[i].Rank = i + 1
	}
}
