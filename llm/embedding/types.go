// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import "context"

// ProviderType 嵌入提供者类型（封闭集合，在配置加载时选定）
type ProviderType string

const (
	ProviderHash   ProviderType = "hash"
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// Embed 为单条文本生成向量.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch 批量生成向量，保持输入顺序与长度.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回向量维度.
	Dimensions() int

	// MaxBatchSize 返回单次请求支持的最大批量.
	MaxBatchSize() int
}

// BatchResult 批量嵌入结果，Degraded 表示使用了哈希降级向量.
type BatchResult struct {
	Vectors  [][]float64
	Degraded bool
}

// StatusProvider 能报告降级状态的提供者（FallbackProvider 实现）.
type StatusProvider interface {
	EmbedBatchResult(ctx context.Context, texts []string) (*BatchResult, error)
}

// EmbedBatchWithStatus 批量嵌入并返回降级标记；
// 不支持降级的提供者始终返回 Degraded=false.
func EmbedBatchWithStatus(ctx context.Context, p Provider, texts []string) (*BatchResult, error) {
	if sp, ok := p.(StatusProvider); ok {
		return sp.EmbedBatchResult(ctx, texts)
	}
	vecs, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Vectors: vecs}, nil
}

// EmbedWithStatus 单条版本的 EmbedBatchWithStatus.
func EmbedWithStatus(ctx context.Context, p Provider, text string) ([]float64, bool, error) {
	res, err := EmbedBatchWithStatus(ctx, p, []string{text})
	if err != nil {
		return nil, false, err
	}
	return res.Vectors[0], res.Degraded, nil
}

// Recorder 接收缓存与降级事件（由 internal/metrics.Collector 实现）.
type Recorder interface {
	RecordEmbeddingCache(backend string, hit bool)
	RecordEmbeddingDegraded(provider string, count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordEmbeddingCache(string, bool)   {}
func (nopRecorder) RecordEmbeddingDegraded(string, int) {}

// embedOne 通过批量接口嵌入单条文本.
func embedOne(ctx context.Context, p Provider, text string) ([]float64, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
