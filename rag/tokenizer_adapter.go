package rag

import (
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	lltok "github.com/BaSui01/ragcore/llm/tokenizer"
)

// Tokenizer 分块与 Prompt 预算使用的 token 计数接口
type Tokenizer interface {
	CountTokens(text string) int
}

// LLMTokenizerAdapter 将 llm/tokenizer.Tokenizer 适配为 rag.Tokenizer。
// 底层返回 error 时回退到字符估算，警告只记录一次。
type LLMTokenizerAdapter struct {
	inner  lltok.Tokenizer
	logger *zap.Logger
	warned atomic.Bool
}

// NewLLMTokenizerAdapter 创建适配器
func NewLLMTokenizerAdapter(inner lltok.Tokenizer, logger *zap.Logger) *LLMTokenizerAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMTokenizerAdapter{inner: inner, logger: logger}
}

// CountTokens 返回文本的 token 数，出错时按 4 字符/ token 估算，首次出错时记录警告
func (a *LLMTokenizerAdapter) CountTokens(text string) int {
	count, err := a.inner.CountTokens(text)
	if err != nil {
		if a.warned.CompareAndSwap(false, true) {
			a.logger.Warn("tokenizer CountTokens failed, falling back to estimate",
				zap.String("tokenizer", a.inner.Name()),
				zap.Error(err))
		}
		return estimateTokens(text)
	}
	return count
}

var registerOpenAIOnce sync.Once

// ResolveTokenizer 通过 llm/tokenizer 注册表按模型选择分词器（OpenAI 模型为 tiktoken，
// 未注册的模型为估算器）。分词器在这里加载一次；加载失败时记录一条警告并改用估算器。
func ResolveTokenizer(model string, maxTokens int, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		return NewEstimatorAdapter("default", maxTokens, logger)
	}
	registerOpenAIOnce.Do(lltok.RegisterOpenAITokenizers)

	inner := lltok.GetTokenizerOrEstimator(model)
	if _, err := inner.CountTokens(""); err != nil {
		logger.Warn("tokenizer unavailable, falling back to estimator",
			zap.String("model", model),
			zap.String("tokenizer", inner.Name()),
			zap.Error(err))
		inner = lltok.NewEstimatorTokenizer(model, maxTokens)
	}
	return NewLLMTokenizerAdapter(inner, logger)
}

// NewEstimatorAdapter 基于 CJK 感知估算器的适配器，不需要下载编码数据。
func NewEstimatorAdapter(model string, maxTokens int, logger *zap.Logger) Tokenizer {
	return NewLLMTokenizerAdapter(lltok.NewEstimatorTokenizer(model, maxTokens), logger)
}

func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
