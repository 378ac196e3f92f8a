package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimatorTokenizer_CountTokens(t *testing.T) {
	t.Parallel()
	est := NewEstimatorTokenizer("any", 0)

	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"short ascii rounds up to one", "hi", 1},
		{"ascii four chars per token", "abcdefghijklmnop", 4},
		{"cjk one and a half chars per token", "你好世界你好", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := est.CountTokens(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 4096, est.MaxTokens())
	assert.Equal(t, "estimator", est.Name())
}

func TestNewTiktokenTokenizer_EncodingSelection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "o200k_base", NewTiktokenTokenizer("gpt-4o").encoding)
	assert.Equal(t, "o200k_base", NewTiktokenTokenizer("gpt-4o-mini-2024").encoding)
	assert.Equal(t, "cl100k_base", NewTiktokenTokenizer("gpt-4-0613").encoding)
	assert.Equal(t, 8192, NewTiktokenTokenizer("unknown-model").MaxTokens())
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenTokenizer("gpt-4").Name())
}

func TestGetTokenizerOrEstimator(t *testing.T) {
	RegisterTokenizer("test-model", NewEstimatorTokenizer("test-model", 1234))

	assert.Equal(t, 1234, GetTokenizerOrEstimator("test-model").MaxTokens())
	assert.Equal(t, 1234, GetTokenizerOrEstimator("test-model-v2").MaxTokens())
	assert.Equal(t, "estimator", GetTokenizerOrEstimator("nobody-registered-this").Name())
}
