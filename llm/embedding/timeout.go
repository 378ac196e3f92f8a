package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/ragcore/types"
)

// TimeoutProvider 为每次调用设置独立超时。
// 自身超时映射为可重试的 PROVIDER_UNAVAILABLE；调用方的取消或截止原样返回.
type TimeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// NewTimeoutProvider timeout<=0 时直接返回 inner.
func NewTimeoutProvider(inner Provider, timeout time.Duration) Provider {
	if timeout <= 0 {
		return inner
	}
	return &TimeoutProvider{inner: inner, timeout: timeout}
}

func (p *TimeoutProvider) Name() string      { return p.inner.Name() }
func (p *TimeoutProvider) Dimensions() int   { return p.inner.Dimensions() }
func (p *TimeoutProvider) MaxBatchSize() int { return p.inner.MaxBatchSize() }

func (p *TimeoutProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	vec, err := p.inner.Embed(tctx, text)
	return vec, p.mapErr(ctx, tctx, err)
}

func (p *TimeoutProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	vecs, err := p.inner.EmbedBatch(tctx, texts)
	return vecs, p.mapErr(ctx, tctx, err)
}

func (p *TimeoutProvider) mapErr(parent, tctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return types.NewProviderUnavailableError(p.inner.Name(),
			fmt.Errorf("embedding timed out after %s: %w", p.timeout, err))
	}
	return err
}
