package embedding

import (
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/cache"
	"github.com/BaSui01/ragcore/types"
)

// NewProviderFromConfig 按配置组装嵌入提供者链：
// 基础提供者 → 限流 → 超时 → 分批 → 缓存 → 降级（最外层）.
// cacheMgr 仅在 cache_backend=redis 时使用，recorder 可为 nil.
func NewProviderFromConfig(cfg config.EmbeddingConfig, cacheMgr *cache.Manager, recorder Recorder, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimension <= 0 {
		return nil, types.NewConfigurationError("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	var base Provider
	switch ProviderType(cfg.Provider) {
	case ProviderHash:
		base = NewHashingProvider(cfg.Dimension)
	case ProviderOpenAI:
		base = NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimension,
		})
	case ProviderOllama:
		base = NewOllamaProvider(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimension,
		})
	default:
		return nil, types.NewConfigurationError("unknown embedding provider %q", cfg.Provider)
	}

	p := NewRateLimitedProvider(base, cfg.RequestsPerSecond)
	p = NewTimeoutProvider(p, cfg.Timeout)
	p = NewBatchingProvider(p, cfg.MaxBatchSize, cfg.Concurrency)

	if cfg.CacheEnabled {
		c, err := newCache(cfg, cacheMgr)
		if err != nil {
			return nil, err
		}
		p = NewCachedProvider(p, c, recorder, logger)
	}

	if cfg.FallbackEnabled && ProviderType(cfg.Provider) != ProviderHash {
		p = NewFallbackProvider(p, recorder, logger)
	}

	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Provider),
		zap.Int("dimension", cfg.Dimension),
		zap.Bool("cache", cfg.CacheEnabled),
		zap.Bool("fallback", cfg.FallbackEnabled),
	)
	return p, nil
}

func newCache(cfg config.EmbeddingConfig, mgr *cache.Manager) (Cache, error) {
	switch cfg.CacheBackend {
	case "", "memory":
		return NewMemoryCache(cfg.CacheSize, cfg.CacheTTL), nil
	case "redis":
		if mgr == nil {
			return nil, types.NewConfigurationError("embedding cache_backend redis requires a redis connection")
		}
		return NewRedisCache(mgr, cfg.CacheTTL), nil
	default:
		return nil, types.NewConfigurationError("unknown embedding cache_backend %q", cfg.CacheBackend)
	}
}
