package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider 对底层请求做令牌桶限流.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider rps<=0 时直接返回 inner.
func NewRateLimitedProvider(inner Provider, rps float64) Provider {
	if rps <= 0 {
		return inner
	}
	burst := max(int(rps), 1)
	return &RateLimitedProvider{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p *RateLimitedProvider) Name() string      { return p.inner.Name() }
func (p *RateLimitedProvider) Dimensions() int   { return p.inner.Dimensions() }
func (p *RateLimitedProvider) MaxBatchSize() int { return p.inner.MaxBatchSize() }

func (p *RateLimitedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Embed(ctx, text)
}

func (p *RateLimitedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.EmbedBatch(ctx, texts)
}
