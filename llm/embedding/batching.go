package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchingProvider 将大批量拆分为不超过 maxBatch 的子批，
// 以至多 concurrency 个并发请求执行，结果按输入顺序拼回.
type BatchingProvider struct {
	inner       Provider
	maxBatch    int
	concurrency int
}

// NewBatchingProvider 创建分批提供者；maxBatch 取配置值与底层上限的较小者.
func NewBatchingProvider(inner Provider, maxBatch, concurrency int) *BatchingProvider {
	if limit := inner.MaxBatchSize(); maxBatch <= 0 || (limit > 0 && limit < maxBatch) {
		maxBatch = limit
	}
	if maxBatch <= 0 {
		maxBatch = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchingProvider{inner: inner, maxBatch: maxBatch, concurrency: concurrency}
}

func (p *BatchingProvider) Name() string      { return p.inner.Name() }
func (p *BatchingProvider) Dimensions() int   { return p.inner.Dimensions() }
func (p *BatchingProvider) MaxBatchSize() int { return p.maxBatch }

func (p *BatchingProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	return p.inner.Embed(ctx, text)
}

// EmbedBatch 任一子批失败则整体失败.
func (p *BatchingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) <= p.maxBatch {
		return p.inner.EmbedBatch(ctx, texts)
	}

	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for start := 0; start < len(texts); start += p.maxBatch {
		end := min(start+p.maxBatch, len(texts))
		g.Go(func() error {
			vecs, err := p.inner.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
