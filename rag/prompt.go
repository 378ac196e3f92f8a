package rag

import (
	"fmt"
	"strings"

	llmctx "github.com/BaSui01/ragcore/llm/context"
	"github.com/BaSui01/ragcore/types"
)

// ====== Prompt 构建 ======

const defaultPromptTemplate = `Answer the question using only the numbered context passages below.
If the context does not contain the answer, say that you do not know.

{{history}}Context:
{{context}}
Question: {{query}}
Answer:`

const (
	placeholderHistory = "{{history}}"
	placeholderContext = "{{context}}"
	placeholderQuery   = "{{query}}"
)

// BuiltPrompt 构建结果
type BuiltPrompt struct {
	Text string
	// Used 实际进入 prompt 的候选，按排名顺序
	Used []RetrievedCandidate
	// Dropped 因预算不足被丢弃的候选数
	Dropped int
	// HistoryTurns 进入 prompt 的对话轮数
	HistoryTurns int
	Tokens       int
	Budget       int
}

// PromptBuilder 按 token 预算组装 prompt。预算 = maxTokens - 模板开销 - 查询开销；
// 对话历史最多占一半预算（丢弃最早的轮次），剩余预算按排名装入检索块，
// 放不下时从排名最低的块开始丢弃。
type PromptBuilder struct {
	template  string
	maxTokens int
	tokenizer Tokenizer
}

// NewPromptBuilder 创建 prompt 构建器；template 为空时使用默认模板
func NewPromptBuilder(template string, maxTokens int, tokenizer Tokenizer) (*PromptBuilder, error) {
	if template == "" {
		template = defaultPromptTemplate
	}
	if !strings.Contains(template, placeholderContext) || !strings.Contains(template, placeholderQuery) {
		return nil, types.NewConfigurationError("prompt template must contain %s and %s", placeholderContext, placeholderQuery)
	}
	if maxTokens <= 0 {
		return nil, types.NewConfigurationError("generation max_tokens must be positive, got %d", maxTokens)
	}
	if tokenizer == nil {
		tokenizer = NewEstimatorAdapter("default", maxTokens, nil)
	}
	return &PromptBuilder{template: template, maxTokens: maxTokens, tokenizer: tokenizer}, nil
}

// Build 组装 prompt。模板与查询本身超出预算时返回 CONTEXT_OVERFLOW。
func (b *PromptBuilder) Build(query string, candidates []RetrievedCandidate, history []llmctx.Turn) (*BuiltPrompt, error) {
	fixed := b.tokenizer.CountTokens(b.render("", "", query))
	budget := b.maxTokens - fixed
	if budget < 0 {
		return nil, types.NewError(types.ErrContextOverflow,
			fmt.Sprintf("query needs %d tokens, budget is %d", fixed, b.maxTokens))
	}

	out := &BuiltPrompt{Budget: budget}

	// 历史：从最新往回装，不超过一半预算
	var hist string
	if len(history) > 0 && strings.Contains(b.template, placeholderHistory) {
		limit := budget / 2
		start := len(history)
		used := b.tokenizer.CountTokens(historyHeader)
		for i := len(history) - 1; i >= 0; i-- {
			cost := b.tokenizer.CountTokens(formatTurn(history[i]))
			if used+cost > limit {
				break
			}
			used += cost
			start = i
		}
		if start < len(history) {
			hist = renderHistory(history[start:])
			out.HistoryTurns = len(history) - start
			budget -= b.tokenizer.CountTokens(hist)
		}
	}

	// 检索块：按排名装入，第一块放不下即停止，保证丢弃的总是排名最低者
	var ctxText strings.Builder
	remaining := budget
	for i, c := range candidates {
		passage := formatPassage(len(out.Used)+1, c)
		cost := b.tokenizer.CountTokens(passage)
		if cost > remaining {
			out.Dropped = len(candidates) - i
			break
		}
		remaining -= cost
		ctxText.WriteString(passage)
		out.Used = append(out.Used, c)
	}

	out.Text = b.render(hist, ctxText.String(), query)
	out.Tokens = b.tokenizer.CountTokens(out.Text)
	return out, nil
}

func (b *PromptBuilder) render(history, context, query string) string {
	r := strings.NewReplacer(
		placeholderHistory, history,
		placeholderContext, context,
		placeholderQuery, query,
	)
	return r.Replace(b.template)
}

const historyHeader = "Conversation so far:\n"

func formatTurn(t llmctx.Turn) string {
	return string(t.Role) + ": " + strings.TrimSpace(t.Content) + "\n"
}

func renderHistory(turns []llmctx.Turn) string {
	var sb strings.Builder
	sb.WriteString(historyHeader)
	for _, t := range turns {
		sb.WriteString(formatTurn(t))
	}
	sb.WriteString("\n")
	return sb.String()
}

func formatPassage(n int, c RetrievedCandidate) string {
	return fmt.Sprintf("[%d] (source: %s)\n%s\n\n", n, c.Chunk.ID, strings.TrimSpace(c.Chunk.Text))
}
