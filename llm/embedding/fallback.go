package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/types"
)

// FallbackProvider 主提供者 PROVIDER_UNAVAILABLE 时降级到哈希向量。
// 降级向量维度与主提供者一致，且通过 EmbedBatchResult 报告 Degraded；
// 其他错误（维度不符、请求非法、取消）直接返回.
type FallbackProvider struct {
	primary  Provider
	fallback *HashingProvider
	recorder Recorder
	logger   *zap.Logger
}

// NewFallbackProvider 创建降级提供者.
func NewFallbackProvider(primary Provider, recorder Recorder, logger *zap.Logger) *FallbackProvider {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackProvider{
		primary:  primary,
		fallback: NewHashingProvider(primary.Dimensions()),
		recorder: recorder,
		logger:   logger.With(zap.String("component", "embedding_fallback")),
	}
}

func (p *FallbackProvider) Name() string      { return p.primary.Name() }
func (p *FallbackProvider) Dimensions() int   { return p.primary.Dimensions() }
func (p *FallbackProvider) MaxBatchSize() int { return p.primary.MaxBatchSize() }

func (p *FallbackProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	vec, _, err := EmbedWithStatus(ctx, p, text)
	return vec, err
}

func (p *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	res, err := p.EmbedBatchResult(ctx, texts)
	if err != nil {
		return nil, err
	}
	return res.Vectors, nil
}

// EmbedBatchResult 实现 StatusProvider.
func (p *FallbackProvider) EmbedBatchResult(ctx context.Context, texts []string) (*BatchResult, error) {
	vecs, err := p.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return &BatchResult{Vectors: vecs}, nil
	}
	if !types.IsProviderUnavailable(err) || ctx.Err() != nil {
		return nil, err
	}

	p.logger.Warn("embedding provider unavailable, using hashing fallback",
		zap.String("provider", p.primary.Name()),
		zap.Int("texts", len(texts)),
		zap.Error(err),
	)
	vecs, ferr := p.fallback.EmbedBatch(ctx, texts)
	if ferr != nil {
		return nil, ferr
	}
	p.recorder.RecordEmbeddingDegraded(p.primary.Name(), len(texts))
	return &BatchResult{Vectors: vecs, Degraded: true}, nil
}
