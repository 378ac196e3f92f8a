package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/llm/circuitbreaker"
	"github.com/BaSui01/ragcore/types"
)

// ProviderType 生成后端（封闭集合）
type ProviderType string

const (
	ProviderNone   ProviderType = "none"
	ProviderOpenAI ProviderType = "openai"
)

// Generator 文本生成能力
type Generator interface {
	// Generate 根据 prompt 生成完整回答
	Generate(ctx context.Context, prompt string) (string, error)
	// Name 后端名称
	Name() string
	// Model 模型名称
	Model() string
}

// Fragment 流式输出片段。Err 非空时表示流异常结束，之后不再有片段。
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// StreamGenerator 支持流式输出的生成器
type StreamGenerator interface {
	Generator
	// GenerateStream 返回片段通道；通道在流结束或 ctx 取消后关闭
	GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, error)
}

// NewGeneratorFromConfig 按 generation.provider 创建生成器；provider=none 时返回 nil
func NewGeneratorFromConfig(cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderNone, "":
		return nil, nil
	case ProviderOpenAI:
		if cfg.Model == "" {
			return nil, types.NewConfigurationError("generation.model is required for provider openai")
		}
		var g Generator = NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		if cfg.BreakerThreshold > 0 {
			cb := circuitbreaker.New("generation."+cfg.Provider, circuitbreaker.Config{
				Threshold:    cfg.BreakerThreshold,
				ResetTimeout: cfg.BreakerResetTimeout,
			}, logger)
			g = WithCircuitBreaker(g, cb)
		}
		return g, nil
	default:
		return nil, types.NewConfigurationError("unknown generation provider %q", cfg.Provider)
	}
}
