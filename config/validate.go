package config

import (
	"slices"
	"strings"

	"github.com/BaSui01/ragcore/types"
)

var (
	chunkingStrategies  = []string{"recursive", "sentence", "paragraph", "fixed"}
	embeddingProviders  = []string{"hash", "openai", "ollama"}
	retrievalStrategies = []string{"semantic", "keyword", "hybrid"}
	rerankers           = []string{"exact_match", "length_normalized", "metadata_boost", "ensemble"}
	generationProviders = []string{"none", "openai"}
	storageBackends     = []string{"memory", "sqlite", "postgres", "mysql", "mongodb"}
	cacheBackends       = []string{"memory", "redis"}
)

// Validate 验证配置，所有问题合并为一个 CONFIGURATION_ERROR 返回
func (c *Config) Validate() error {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	ch := c.Chunking
	if !slices.Contains(chunkingStrategies, ch.Strategy) {
		add("unknown chunking.strategy " + quote(ch.Strategy))
	}
	if ch.ChunkSize <= 0 {
		add("chunking.chunk_size must be positive")
	}
	if ch.ChunkOverlap < 0 {
		add("chunking.chunk_overlap must not be negative")
	}
	if ch.ChunkSize <= ch.ChunkOverlap {
		add("chunking.chunk_size must be greater than chunking.chunk_overlap")
	}

	em := c.Embedding
	if !slices.Contains(embeddingProviders, em.Provider) {
		add("unknown embedding.provider " + quote(em.Provider))
	}
	if em.Dimension <= 0 {
		add("embedding.dimension must be positive")
	}
	if em.CacheEnabled && !slices.Contains(cacheBackends, em.CacheBackend) {
		add("unknown embedding.cache_backend " + quote(em.CacheBackend))
	}

	rt := c.Retrieval
	if !slices.Contains(retrievalStrategies, rt.Strategy) {
		add("unknown retrieval.strategy " + quote(rt.Strategy))
	}
	if rt.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}
	if rt.SemanticWeight < 0 || rt.KeywordWeight < 0 {
		add("retrieval weights must not be negative")
	}
	if rt.RerankingEnabled && !slices.Contains(rerankers, rt.Reranker) {
		add("unknown retrieval.reranker " + quote(rt.Reranker))
	}

	if !slices.Contains(generationProviders, c.Generation.Provider) {
		add("unknown generation.provider " + quote(c.Generation.Provider))
	}
	if c.Generation.MaxTokens <= 0 {
		add("generation.max_tokens must be positive")
	}
	if c.Generation.BreakerThreshold < 0 {
		add("generation.breaker_threshold must not be negative")
	}

	if c.Context.MaxTurns <= 0 {
		add("context.max_turns must be positive")
	}
	if !slices.Contains(cacheBackends, c.Context.Store) {
		add("unknown context.store " + quote(c.Context.Store))
	}

	m := c.Memory
	if m.NewnessWeight < 0 || m.RelevanceWeight < 0 || m.ImportanceWeight < 0 {
		add("memory weights must not be negative")
	}
	if m.HalfLife <= 0 {
		add("memory.half_life must be positive")
	}

	if !slices.Contains(storageBackends, c.Storage.Backend) {
		add("unknown storage.backend " + quote(c.Storage.Backend))
	}

	if len(errs) > 0 {
		return types.NewConfigurationError("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func quote(s string) string { return `"` + s + `"` }
