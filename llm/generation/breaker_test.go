package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/llm/circuitbreaker"
	"github.com/BaSui01/ragcore/types"
)

type scriptedGenerator struct {
	calls atomic.Int32
	err   error
	parts []Fragment
}

func (g *scriptedGenerator) Name() string  { return "scripted" }
func (g *scriptedGenerator) Model() string { return "m1" }

func (g *scriptedGenerator) Generate(context.Context, string) (string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return "ok", nil
}

type scriptedStream struct{ scriptedGenerator }

func (g *scriptedStream) GenerateStream(context.Context, string) (<-chan Fragment, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	ch := make(chan Fragment, len(g.parts))
	for _, f := range g.parts {
		ch <- f
	}
	close(ch)
	return ch, nil
}

func drain(ch <-chan Fragment) (text string, err error) {
	for f := range ch {
		if f.Err != nil {
			err = f.Err
		}
		text += f.Text
	}
	return text, err
}

func TestWithCircuitBreaker_NilPassthrough(t *testing.T) {
	assert.Nil(t, WithCircuitBreaker(nil, circuitbreaker.New("x", circuitbreaker.Config{}, nil)))
	g := &scriptedGenerator{}
	assert.Same(t, g, WithCircuitBreaker(g, nil))
}

func TestWithCircuitBreaker_OpensAndShortCircuits(t *testing.T) {
	inner := &scriptedGenerator{err: types.NewProviderUnavailableError("scripted", errors.New("502"))}
	cb := circuitbreaker.New("gen", circuitbreaker.Config{Threshold: 2, ResetTimeout: time.Hour}, zaptest.NewLogger(t))
	g := WithCircuitBreaker(inner, cb)

	_, isStream := g.(StreamGenerator)
	assert.False(t, isStream)
	assert.Equal(t, "scripted", g.Name())
	assert.Equal(t, "m1", g.Model())

	for range 2 {
		_, err := g.Generate(context.Background(), "q")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	_, err := g.Generate(context.Background(), "q")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.True(t, types.IsProviderUnavailable(err))
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestWithCircuitBreaker_Stream(t *testing.T) {
	inner := &scriptedStream{scriptedGenerator: scriptedGenerator{parts: []Fragment{{Text: "a"}, {Text: "b"}, {Done: true}}}}
	cb := circuitbreaker.New("gen", circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour}, nil)
	g := WithCircuitBreaker(inner, cb)

	sg, ok := g.(StreamGenerator)
	require.True(t, ok)

	ch, err := sg.GenerateStream(context.Background(), "q")
	require.NoError(t, err)
	text, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())

	// 流中途失败计入熔断
	inner.parts = []Fragment{{Text: "a"}, {Err: types.NewProviderUnavailableError("scripted", errors.New("reset"))}}
	ch, err = sg.GenerateStream(context.Background(), "q")
	require.NoError(t, err)
	_, err = drain(ch)
	require.Error(t, err)
	assert.Eventually(t, func() bool { return cb.State() == circuitbreaker.StateOpen }, time.Second, 5*time.Millisecond)

	_, err = sg.GenerateStream(context.Background(), "q")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestWithCircuitBreaker_StreamStartFailure(t *testing.T) {
	inner := &scriptedStream{scriptedGenerator: scriptedGenerator{err: errors.New("dial tcp: refused")}}
	cb := circuitbreaker.New("gen", circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour}, nil)
	sg := WithCircuitBreaker(inner, cb).(StreamGenerator)

	_, err := sg.GenerateStream(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestNewGeneratorFromConfig_Breaker(t *testing.T) {
	cfg := config.DefaultGenerationConfig()
	cfg.Provider = "openai"

	g, err := NewGeneratorFromConfig(cfg, nil)
	require.NoError(t, err)
	_, wrapped := g.(*breakerStreamGenerator)
	assert.True(t, wrapped)

	cfg.BreakerThreshold = 0
	g, err = NewGeneratorFromConfig(cfg, nil)
	require.NoError(t, err)
	_, plain := g.(*OpenAIGenerator)
	assert.True(t, plain)
}
