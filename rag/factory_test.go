package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/metrics"
	"github.com/BaSui01/ragcore/types"
)

// offlineConfig 默认配置，生成模型为空以避免下载 tiktoken 编码表
func offlineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Generation.Model = ""
	return cfg
}

// ---------------------------------------------------------------------------
// NewVectorStoreFromConfig
// ---------------------------------------------------------------------------

func TestNewVectorStoreFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		wantType string
		wantErr  bool
	}{
		{name: "empty backend defaults to memory", backend: "", wantType: "*rag.InMemoryVectorStore"},
		{name: "memory", backend: "memory", wantType: "*rag.InMemoryVectorStore"},
		{name: "sqlite", backend: "sqlite", wantType: "*rag.SQLVectorStore"},
		{name: "unsupported backend", backend: "pinecone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offlineConfig()
			cfg.Storage.Backend = tt.backend
			cfg.Storage.Database.Name = filepath.Join(t.TempDir(), "rag.db")

			store, err := NewVectorStoreFromConfig(context.Background(), cfg, StoreDeps{}, zaptest.NewLogger(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsConfigurationError(err))
				assert.Contains(t, err.Error(), "unsupported vector store backend")
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			assert.Equal(t, tt.wantType, fmt.Sprintf("%T", store))
			assert.Equal(t, cfg.Embedding.Dimension, store.Dimension())
		})
	}
}

func TestNewVectorStoreFromConfig_NilConfig(t *testing.T) {
	_, err := NewVectorStoreFromConfig(context.Background(), nil, StoreDeps{}, nil)
	assert.True(t, types.IsConfigurationError(err))
}

func TestNewVectorStoreFromConfig_SQLiteWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("test", reg, zap.NewNop())

	cfg := offlineConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Database.Name = filepath.Join(t.TempDir(), "rag.db")
	cfg.Embedding.Dimension = 4

	store, err := NewVectorStoreFromConfig(context.Background(), cfg,
		StoreDeps{PoolReporter: collector, QueryRecorder: collector}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Add(ctx, []Chunk{{
		ID: "d#0", DocumentID: "d", Text: "hello", Embedding: []float64{1, 0, 0, 0},
	}}))
	_, err = store.SimilaritySearch(ctx, []float64{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "test_db_query_duration_seconds")
	require.NoError(t, err)
	assert.Positive(t, n)
}

// ---------------------------------------------------------------------------
// 其他组件工厂
// ---------------------------------------------------------------------------

func TestNewChunkerFromConfig(t *testing.T) {
	cfg := offlineConfig()
	c, err := NewChunkerFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, ChunkingRecursive, c.Config().Strategy)
	assert.Equal(t, 1000, c.Config().ChunkSize)

	cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize
	_, err = NewChunkerFromConfig(cfg, nil)
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewChunkerFromConfig(nil, nil)
	assert.True(t, types.IsConfigurationError(err))
}

func TestNewRerankerFromConfig(t *testing.T) {
	cfg := offlineConfig()
	r, err := NewRerankerFromConfig(cfg)
	require.NoError(t, err)
	sr, ok := r.(*ScoringReranker)
	require.True(t, ok)
	assert.Equal(t, RerankerExactMatch, sr.Type())

	cfg.Retrieval.RerankingEnabled = false
	r, err = NewRerankerFromConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, r)

	cfg.Retrieval.RerankingEnabled = true
	cfg.Retrieval.Reranker = "cross_encoder"
	_, err = NewRerankerFromConfig(cfg)
	assert.True(t, types.IsConfigurationError(err))
}

func TestNewRetrieverFromConfig(t *testing.T) {
	cfg := offlineConfig()
	store, err := NewInMemoryVectorStore(cfg.Embedding.Dimension, nil)
	require.NoError(t, err)

	r, err := NewRetrieverFromConfig(cfg, store, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyHybrid, r.Config().Strategy)
	assert.Equal(t, 5, r.Config().TopK)

	cfg.Retrieval.TopK = 0
	_, err = NewRetrieverFromConfig(cfg, store, nil, nil)
	assert.True(t, types.IsConfigurationError(err))
}

// ---------------------------------------------------------------------------
// NewOrchestratorFromConfig
// ---------------------------------------------------------------------------

func TestNewOrchestratorFromConfig_EndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("rag", reg, zap.NewNop())

	cfg := offlineConfig()
	o, err := NewOrchestratorFromConfig(context.Background(), cfg, BuildOptions{Metrics: collector}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer o.Close()

	ctx := context.Background()
	rep, err := o.AddKnowledge(ctx, Document{ID: "go", Content: "Goroutines are lightweight threads managed by the Go runtime."})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ChunksStored)

	res, err := o.Query(ctx, QueryRequest{Query: "what are goroutines", SessionID: "s"})
	require.NoError(t, err)
	// generation.provider=none
	assert.True(t, res.Fallback)
	assert.Equal(t, StateDone, res.State)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "go", res.Citations[0].DocumentID)

	conv, err := o.Sessions().Get(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 2)

	assert.Equal(t, 1.0, counterValue(t, reg, "rag_ingest_chunks_total", "status", "stored"))
	n, err := testutil.GatherAndCount(reg, "rag_queries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewOrchestratorFromConfig_Errors(t *testing.T) {
	_, err := NewOrchestratorFromConfig(context.Background(), nil, BuildOptions{}, nil)
	assert.True(t, types.IsConfigurationError(err))

	cfg := offlineConfig()
	cfg.Storage.Backend = "cassandra"
	_, err = NewOrchestratorFromConfig(context.Background(), cfg, BuildOptions{}, nil)
	require.Error(t, err)
	assert.True(t, types.IsConfigurationError(err))

	cfg = offlineConfig()
	cfg.Retrieval.Reranker = "unknown"
	_, err = NewOrchestratorFromConfig(context.Background(), cfg, BuildOptions{}, nil)
	assert.True(t, types.IsConfigurationError(err))
}

// counterValue 读取带指定标签的计数器值
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}
