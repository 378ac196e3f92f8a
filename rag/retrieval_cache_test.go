package rag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(ids ...string) RetrievalOutcome {
	out := RetrievalOutcome{}
	for _, id := range ids {
		out.Candidates = append(out.Candidates, RetrievedCandidate{Chunk: Chunk{ID: id}})
	}
	return out
}

func TestResultCache_LRUEviction(t *testing.T) {
	c := newResultCache(2, 0)
	c.set("a", outcome("1"))
	c.set("b", outcome("2"))
	_, ok := c.get("a") // a 变为最近使用
	require.True(t, ok)
	c.set("c", outcome("3"))

	_, ok = c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestResultCache_TTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := newResultCache(10, time.Minute)
	c.now = func() time.Time { return now }
	c.set("k", outcome("1"))

	now = now.Add(59 * time.Second)
	_, ok := c.get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.get("k")
	assert.False(t, ok)
	assert.Zero(t, c.len())
}

func TestResultCache_ReturnsCopies(t *testing.T) {
	c := newResultCache(10, 0)
	in := outcome("1", "2")
	c.set("k", in)
	in.Candidates[0].Chunk.ID = "mutated"

	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "1", got.Candidates[0].Chunk.ID)
	got.Candidates[1].Chunk.ID = "mutated"

	again, _ := c.get("k")
	assert.Equal(t, []string{"1", "2"}, ids(again.Candidates))
}

func TestResultCache_Invalidate(t *testing.T) {
	c := newResultCache(10, 0)
	c.set("a", outcome("1"))
	c.set("b", outcome("2"))
	c.invalidate()
	assert.Zero(t, c.len())
	_, ok := c.get("a")
	assert.False(t, ok)
}

func TestResultCacheKey(t *testing.T) {
	base := resultCacheKey(StrategyHybrid, "q", 5, 0.7, 0.3, Metadata{"a": "x", "b": int64(1)})
	assert.Equal(t, base, resultCacheKey(StrategyHybrid, "q", 5, 0.7, 0.3, Metadata{"b": int64(1), "a": "x"}))

	for name, other := range map[string]string{
		"strategy": resultCacheKey(StrategySemantic, "q", 5, 0.7, 0.3, Metadata{"a": "x", "b": int64(1)}),
		"query":    resultCacheKey(StrategyHybrid, "q2", 5, 0.7, 0.3, Metadata{"a": "x", "b": int64(1)}),
		"topK":     resultCacheKey(StrategyHybrid, "q", 6, 0.7, 0.3, Metadata{"a": "x", "b": int64(1)}),
		"weights":  resultCacheKey(StrategyHybrid, "q", 5, 0.5, 0.5, Metadata{"a": "x", "b": int64(1)}),
		"filter":   resultCacheKey(StrategyHybrid, "q", 5, 0.7, 0.3, nil),
	} {
		assert.NotEqual(t, base, other, name)
	}
}
