package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer 统一的 token 计数接口，用于分块统计与 Prompt 预算。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// RegisterTokenizer 为给定的模型名称注册分词器.
func RegisterTokenizer(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// GetTokenizerOrEstimator 返回该模型注册的分词器，支持前缀匹配
// （如 "gpt-4o" 匹配 "gpt-4o-mini"），未注册时回退到估算器。
func GetTokenizerOrEstimator(model string) Tokenizer {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t
	}
	best := ""
	for prefix := range modelTokenizers {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelTokenizers[best]
	}
	return NewEstimatorTokenizer(model, 0)
}
