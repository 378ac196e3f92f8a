// Copyright (c) ragcore Authors.
// Licensed under the MIT License.

/*
Package embedding 提供统一的文本嵌入（Embedding）接口与实现，
用于把分块文本与查询转换为定长向量。

# 核心接口

  - Provider：Embed / EmbedBatch / Name / Dimensions / MaxBatchSize。
  - StatusProvider：额外报告批次是否使用了降级向量。
  - BaseProvider：HTTP 提供者公共基类，封装请求与错误映射。

# 实现

  - HashingProvider：确定性哈希特征向量，无外部依赖。
  - OpenAIProvider：OpenAI 兼容的 /v1/embeddings。
  - OllamaProvider：本地 Ollama /api/embeddings。

# 装饰器

NewProviderFromConfig 按以下顺序组装：

	base → RateLimitedProvider → TimeoutProvider → BatchingProvider
	     → CachedProvider → FallbackProvider

缓存键为 provider、维度与文本的 SHA-256；降级向量不会写入缓存。
*/
package embedding
