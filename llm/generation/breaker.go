package generation

import (
	"context"

	"github.com/BaSui01/ragcore/llm/circuitbreaker"
)

// WithCircuitBreaker 用熔断器包装生成器；熔断打开时直接返回 PROVIDER_UNAVAILABLE。
// 内层支持流式输出时返回值同样实现 StreamGenerator。
func WithCircuitBreaker(g Generator, cb *circuitbreaker.Breaker) Generator {
	if g == nil || cb == nil {
		return g
	}
	base := &breakerGenerator{inner: g, cb: cb}
	if sg, ok := g.(StreamGenerator); ok {
		return &breakerStreamGenerator{breakerGenerator: base, stream: sg}
	}
	return base
}

type breakerGenerator struct {
	inner Generator
	cb    *circuitbreaker.Breaker
}

func (g *breakerGenerator) Name() string  { return g.inner.Name() }
func (g *breakerGenerator) Model() string { return g.inner.Model() }

func (g *breakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return circuitbreaker.Do(ctx, g.cb, func(ctx context.Context) (string, error) {
		return g.inner.Generate(ctx, prompt)
	})
}

type breakerStreamGenerator struct {
	*breakerGenerator
	stream StreamGenerator
}

// GenerateStream 流建立失败立即计入；建立成功后以最后一个片段的错误作为本次结果
func (g *breakerStreamGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, error) {
	if err := g.cb.Allow(); err != nil {
		return nil, err
	}
	in, err := g.stream.GenerateStream(ctx, prompt)
	if err != nil {
		g.cb.Record(err)
		return nil, err
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		var last error
		defer func() { g.cb.Record(last) }()
		for f := range in {
			if f.Err != nil {
				last = f.Err
			}
			select {
			case out <- f:
			case <-ctx.Done():
				last = ctx.Err()
				// 排空上游，避免其 goroutine 阻塞
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}
