package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmctx "github.com/BaSui01/ragcore/llm/context"
	"github.com/BaSui01/ragcore/types"
)

func rankedCandidates(n, textLen int) []RetrievedCandidate {
	out := make([]RetrievedCandidate, n)
	for i := range out {
		out[i] = RetrievedCandidate{
			Chunk: Chunk{ID: fmt.Sprintf("c%d", i), Text: strings.Repeat(string(rune('a'+i)), textLen)},
			Score: 1 - float64(i)*0.1,
			Rank:  i + 1,
		}
	}
	return out
}

func TestNewPromptBuilder_Validation(t *testing.T) {
	_, err := NewPromptBuilder("no placeholders", 100, nil)
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewPromptBuilder("", 0, nil)
	assert.True(t, types.IsConfigurationError(err))

	b, err := NewPromptBuilder("", 100, nil)
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestPromptBuilder_AllFit(t *testing.T) {
	b, err := NewPromptBuilder("", 2000, &mockTokenizer{})
	require.NoError(t, err)

	cands := rankedCandidates(3, 40)
	p, err := b.Build("what is a?", cands, nil)
	require.NoError(t, err)
	assert.Len(t, p.Used, 3)
	assert.Zero(t, p.Dropped)
	assert.Contains(t, p.Text, "[1] (source: c0)")
	assert.Contains(t, p.Text, "[3] (source: c2)")
	assert.Contains(t, p.Text, "Question: what is a?")
	assert.NotContains(t, p.Text, "{{")
	assert.LessOrEqual(t, p.Tokens, 2000)
}

func TestPromptBuilder_DropsLowestRanked(t *testing.T) {
	tok := &mockTokenizer{}
	b, err := NewPromptBuilder("{{context}}Q: {{query}}", 1000, tok)
	require.NoError(t, err)

	cands := rankedCandidates(5, 400)
	passage := tok.CountTokens(formatPassage(1, cands[0]))
	fixed := tok.CountTokens("Q: q")
	// 预算恰好容纳两段
	b.maxTokens = fixed + 2*passage + 1

	p, err := b.Build("q", cands, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1"}, ids(p.Used))
	assert.Equal(t, 3, p.Dropped)
	assert.LessOrEqual(t, p.Tokens, b.maxTokens)
}

func TestPromptBuilder_ContextOverflow(t *testing.T) {
	b, err := NewPromptBuilder("{{context}}{{query}}", 5, &mockTokenizer{})
	require.NoError(t, err)
	_, err = b.Build(strings.Repeat("long query ", 20), rankedCandidates(1, 10), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrContextOverflow, types.GetErrorCode(err))
}

func TestPromptBuilder_HistoryUsesAtMostHalfBudget(t *testing.T) {
	tok := &mockTokenizer{}
	b, err := NewPromptBuilder("", 400, tok)
	require.NoError(t, err)

	var history []llmctx.Turn
	for i := range 20 {
		history = append(history,
			llmctx.Turn{Role: llmctx.RoleUser, Content: fmt.Sprintf("question number %d %s", i, strings.Repeat("q", 40))},
			llmctx.Turn{Role: llmctx.RoleAssistant, Content: fmt.Sprintf("answer number %d %s", i, strings.Repeat("a", 40))},
		)
	}
	p, err := b.Build("final question", rankedCandidates(2, 20), history)
	require.NoError(t, err)
	require.Positive(t, p.HistoryTurns)
	assert.Less(t, p.HistoryTurns, len(history))
	// 保留的是最新的轮次
	assert.Contains(t, p.Text, "answer number 19")
	assert.NotContains(t, p.Text, "question number 0 ")
	assert.Len(t, p.Used, 2)
}

func TestPromptBuilder_TemplateWithoutHistory(t *testing.T) {
	b, err := NewPromptBuilder("C:{{context}} Q:{{query}}", 500, &mockTokenizer{})
	require.NoError(t, err)
	p, err := b.Build("q", nil, []llmctx.Turn{{Role: llmctx.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Zero(t, p.HistoryTurns)
	assert.Equal(t, "C: Q:q", p.Text)
}
