package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/ragcore/types"
)

func cand(id, text string, score float64, meta Metadata) RetrievedCandidate {
	return RetrievedCandidate{Chunk: Chunk{ID: id, Text: text, Metadata: meta}, Score: score}
}

func TestNewReranker(t *testing.T) {
	for _, kind := range []RerankerType{RerankerExactMatch, RerankerLengthNormalized, RerankerMetadataBoost, RerankerEnsemble} {
		r, err := NewReranker(kind, RerankerOptions{})
		require.NoError(t, err, kind)
		assert.Equal(t, kind, r.Type())
	}

	_, err := NewReranker("cross_encoder", RerankerOptions{})
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewReranker(RerankerExactMatch, RerankerOptions{TopN: -1})
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewReranker(RerankerMetadataBoost, RerankerOptions{Boosts: []MetadataBoost{{Factor: 2}}})
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewReranker(RerankerEnsemble, RerankerOptions{Weights: map[RerankerType]float64{RerankerEnsemble: 1}})
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewReranker(RerankerEnsemble, RerankerOptions{Weights: map[RerankerType]float64{RerankerExactMatch: -1}})
	assert.True(t, types.IsConfigurationError(err))
}

func TestExactMatchReranker(t *testing.T) {
	r, err := NewReranker(RerankerExactMatch, RerankerOptions{BoostFactor: 0.5})
	require.NoError(t, err)

	in := []RetrievedCandidate{
		cand("a", "nothing relevant here", 0.6, nil),
		cand("b", "the Eiffel Tower in Paris", 0.5, nil),
	}
	out, err := r.Rerank(context.Background(), "eiffel tower", in, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Chunk.ID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-12)
	assert.Equal(t, out[0].Score, out[0].RerankScore)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, 2, out[1].Rank)

	// 单词查询不调整分数
	out, err = r.Rerank(context.Background(), "eiffel", in, 2)
	require.NoError(t, err)
	assert.Equal(t, "a", out[0].Chunk.ID)
	assert.Equal(t, 0.6, out[0].Score)

	// 输入不被修改
	assert.Equal(t, 0.5, in[1].Score)
	assert.Zero(t, in[1].Rank)
}

func TestLengthNormalizedReranker(t *testing.T) {
	r, err := NewReranker(RerankerLengthNormalized, RerankerOptions{LengthPenalty: 0.5})
	require.NoError(t, err)

	in := []RetrievedCandidate{
		cand("long", strings.Repeat("x", 300), 0.8, nil),
		cand("short", strings.Repeat("y", 100), 0.7, nil),
	}
	out, err := r.Rerank(context.Background(), "q", in, 2)
	require.NoError(t, err)
	assert.Equal(t, "short", out[0].Chunk.ID)
	// avg=200：short 因子 1.25，long 因子 0.75
	assert.InDelta(t, 0.875, out[0].Score, 1e-12)
	assert.InDelta(t, 0.6, out[1].Score, 1e-12)
}

func TestMetadataBoostReranker(t *testing.T) {
	r, err := NewReranker(RerankerMetadataBoost, RerankerOptions{Boosts: []MetadataBoost{
		{Key: "source", Value: "manual", Factor: 2},
		{Key: "pinned", Factor: 1.5},
	}})
	require.NoError(t, err)

	in := []RetrievedCandidate{
		cand("plain", "a", 0.5, Metadata{"source": "blog"}),
		cand("manual", "b", 0.3, Metadata{"source": "manual"}),
		cand("both", "c", 0.4, Metadata{"source": "manual", "pinned": true}),
	}
	out, err := r.Rerank(context.Background(), "q", in, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "both", out[0].Chunk.ID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-12)
	assert.Equal(t, "manual", out[1].Chunk.ID)
	assert.InDelta(t, 0.6, out[1].Score, 1e-12)
	assert.Equal(t, "plain", out[2].Chunk.ID)
}

func TestEnsembleReranker_Deterministic(t *testing.T) {
	r, err := NewReranker(RerankerEnsemble, RerankerOptions{})
	require.NoError(t, err)
	in := []RetrievedCandidate{
		cand("a", "redis cache layer", 0.4, nil),
		cand("b", "an unrelated but much longer passage about other things entirely", 0.5, nil),
		cand("c", "cache", 0.45, nil),
	}
	first, err := r.Rerank(context.Background(), "redis cache", in, 3)
	require.NoError(t, err)
	for range 10 {
		again, err := r.Rerank(context.Background(), "redis cache", in, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestReranker_OnlyRescoresTopN(t *testing.T) {
	r, err := NewReranker(RerankerExactMatch, RerankerOptions{TopN: 2, BoostFactor: 1})
	require.NoError(t, err)

	in := []RetrievedCandidate{
		cand("h1", "none", 0.9, nil),
		cand("h2", "none", 0.8, nil),
		cand("tail", "alpha beta", 0.1, nil),
	}
	out, err := r.Rerank(context.Background(), "alpha beta", in, 3)
	require.NoError(t, err)
	// 第 3 个候选未被重新打分，仍排在后面
	assert.Equal(t, []string{"h1", "h2", "tail"}, ids(out))
	assert.Zero(t, out[2].RerankScore)
	assert.Equal(t, 3, out[2].Rank)
}

func TestReranker_TailScoresStayBelowHead(t *testing.T) {
	r, err := NewReranker(RerankerLengthNormalized, RerankerOptions{TopN: 2, LengthPenalty: 0.5})
	require.NoError(t, err)

	in := []RetrievedCandidate{
		cand("long", strings.Repeat("x", 300), 0.8, nil),
		cand("short", strings.Repeat("y", 100), 0.7, nil),
		cand("tail1", "z", 0.65, nil),
		cand("tail2", "z", 0.3, nil),
	}
	out, err := r.Rerank(context.Background(), "q", in, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"short", "long", "tail1", "tail2"}, ids(out))
	assert.InDelta(t, 0.6, out[1].Score, 1e-12)
	// long 降到 0.6 后，tail1 原分 0.65 被压到 0.6
	assert.InDelta(t, 0.6, out[2].Score, 1e-12)
	assert.InDelta(t, 0.3, out[3].Score, 1e-12)
	assert.Zero(t, out[2].RerankScore)

	// 输入不被修改
	assert.Equal(t, 0.65, in[2].Score)
}

func TestReranker_EmptyAndCancelled(t *testing.T) {
	r, err := NewReranker(RerankerExactMatch, RerankerOptions{})
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Rerank(ctx, "q", []RetrievedCandidate{cand("a", "x", 1, nil)}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReranker_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]RerankerType{RerankerExactMatch, RerankerLengthNormalized, RerankerMetadataBoost, RerankerEnsemble}).Draw(t, "kind")
		topN := rapid.IntRange(1, 10).Draw(t, "topN")
		topK := rapid.IntRange(1, 10).Draw(t, "topK")
		n := rapid.IntRange(0, 15).Draw(t, "n")

		in := make([]RetrievedCandidate, n)
		for i := range in {
			text := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, fmt.Sprintf("text%d", i))
			score := rapid.Float64Range(0, 1).Draw(t, fmt.Sprintf("score%d", i))
			in[i] = cand(fmt.Sprintf("c%d", i), text, score, nil)
		}

		r, err := NewReranker(kind, RerankerOptions{TopN: topN})
		if err != nil {
			t.Fatalf("new reranker: %v", err)
		}
		out, err := r.Rerank(context.Background(), "alpha beta gamma", in, topK)
		if err != nil {
			t.Fatalf("rerank: %v", err)
		}
		if len(out) > topK || len(out) > n {
			t.Fatalf("got %d results, topK=%d n=%d", len(out), topK, n)
		}
		known := make(map[string]bool, n)
		for _, c := range in {
			known[c.Chunk.ID] = true
		}
		seen := map[string]bool{}
		for i, c := range out {
			if !known[c.Chunk.ID] || seen[c.Chunk.ID] {
				t.Fatalf("unexpected or duplicate candidate %s", c.Chunk.ID)
			}
			seen[c.Chunk.ID] = true
			if c.Rank != i+1 {
				t.Fatalf("rank %d at position %d", c.Rank, i)
			}
			if i > 0 && c.Score > out[i-1].Score {
				t.Fatalf("score increases at position %d: %v > %v", i, c.Score, out[i-1].Score)
			}
		}
	})
}

func ids(cands []RetrievedCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Chunk.ID
	}
	return out
}
