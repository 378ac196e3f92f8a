// =============================================================================
// 📦 ragcore 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Chunking:   DefaultChunkingConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		Retrieval:  DefaultRetrievalConfig(),
		Generation: DefaultGenerationConfig(),
		Context:    DefaultContextConfig(),
		Memory:     DefaultMemoryConfig(),
		Storage:    DefaultStorageConfig(),
		Redis:      DefaultRedisConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultChunkingConfig 返回默认分块配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Strategy:     "recursive",
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 50,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:        "hash",
		Dimension:       384,
		Timeout:         30 * time.Second,
		MaxBatchSize:    64,
		Concurrency:     4,
		CacheEnabled:    true,
		CacheBackend:    "memory",
		CacheSize:       10000,
		CacheTTL:        24 * time.Hour,
		FallbackEnabled: true,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Strategy:         "hybrid",
		TopK:             5,
		SemanticWeight:   0.7,
		KeywordWeight:    0.3,
		RerankingEnabled: true,
		Reranker:         "exact_match",
		RerankTopN:       20,
		MaxRetries:       3,
		RetryDelay:       100 * time.Millisecond,
		CacheEnabled:     false,
		CacheSize:        1000,
		CacheTTL:         5 * time.Minute,
	}
}

// DefaultGenerationConfig 返回默认生成配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Provider:    "none",
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.2,
		Timeout:     60 * time.Second,

		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultContextConfig 返回默认会话上下文配置
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxTurns:       10,
		MaxStoredTurns: 100,
		Store:          "memory",
		SessionTTL:     24 * time.Hour,
	}
}

// DefaultMemoryConfig 返回默认记忆评分配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		NewnessWeight:    1,
		RelevanceWeight:  1,
		ImportanceWeight: 1,
		HalfLife:         24 * time.Hour,
		TopN:             5,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: "memory",
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "ragcore",
			Name:            "ragcore",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		MongoDB: MongoDBConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "ragcore",
			Collection: "chunks",
			Timeout:    10 * time.Second,
		},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stderr"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ragcore",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "ragcore",
	}
}
