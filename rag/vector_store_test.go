package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/database"
	"github.com/BaSui01/ragcore/types"
)

// ============================================================
// Interface compliance
// ============================================================

var (
	_ VectorStore = (*InMemoryVectorStore)(nil)
	_ VectorStore = (*SQLVectorStore)(nil)
	_ VectorStore = (*MongoVectorStore)(nil)
	_ ChunkLister = (*InMemoryVectorStore)(nil)
	_ ChunkLister = (*SQLVectorStore)(nil)
	_ ChunkLister = (*MongoVectorStore)(nil)
)

type storeFactory func(t *testing.T, dim int) VectorStore

func newMemoryStore(t *testing.T, dim int) VectorStore {
	t.Helper()
	s, err := NewInMemoryVectorStore(dim, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newSQLiteStore 每个测试独立的数据库文件，避免共享内存库互相干扰
func newSQLiteStore(t *testing.T, dim int) VectorStore {
	t.Helper()
	pool, err := database.Open("sqlite", config.DatabaseConfig{Name: filepath.Join(t.TempDir(), "rag.db")}, zap.NewNop())
	require.NoError(t, err)
	s, err := NewSQLVectorStore(context.Background(), pool, "sqlite", dim, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var storeFactories = map[string]storeFactory{
	"memory": newMemoryStore,
	"sqlite": newSQLiteStore,
}

func testChunk(id, docID string, emb []float64, meta Metadata) Chunk {
	return Chunk{ID: id, DocumentID: docID, Text: "text of " + id, EndIndex: 10, Embedding: emb, Metadata: meta}
}

func TestVectorStore_Contract(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty store returns empty result", func(t *testing.T) {
				s := factory(t, 3)
				got, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, 5, nil)
				require.NoError(t, err)
				assert.Empty(t, got)
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
			})

			t.Run("self match scores one", func(t *testing.T) {
				s := factory(t, 3)
				require.NoError(t, s.Add(ctx, []Chunk{
					testChunk("a", "d1", []float64{0.2, 0.4, 0.9}, nil),
					testChunk("b", "d1", []float64{1, 0, 0}, nil),
				}))
				got, err := s.SimilaritySearch(ctx, []float64{0.2, 0.4, 0.9}, 1, nil)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "a", got[0].Chunk.ID)
				assert.InDelta(t, 1.0, got[0].Score, 1e-9)
				assert.Equal(t, 1, got[0].Rank)
			})

			t.Run("dimension mismatch rejects whole batch", func(t *testing.T) {
				s := factory(t, 3)
				err := s.Add(ctx, []Chunk{
					testChunk("ok", "d1", []float64{1, 0, 0}, nil),
					testChunk("bad", "d1", []float64{1, 0}, nil),
				})
				require.Error(t, err)
				assert.Equal(t, types.ErrDimensionMismatch, types.GetErrorCode(err))
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)

				_, err = s.SimilaritySearch(ctx, []float64{1, 0}, 3, nil)
				assert.Equal(t, types.ErrDimensionMismatch, types.GetErrorCode(err))
			})

			t.Run("duplicate id last write wins and keeps position", func(t *testing.T) {
				s := factory(t, 2)
				require.NoError(t, s.Add(ctx, []Chunk{
					testChunk("x", "d1", []float64{1, 0}, nil),
					testChunk("y", "d1", []float64{1, 0}, nil),
				}))
				updated := testChunk("x", "d1", []float64{1, 0}, Metadata{"v": int64(2)})
				updated.Text = "rewritten"
				require.NoError(t, s.Add(ctx, []Chunk{updated}))

				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				got, err := s.SimilaritySearch(ctx, []float64{1, 0}, 2, nil)
				require.NoError(t, err)
				require.Len(t, got, 2)
				// 平局按插入顺序，覆盖写不改变位置
				assert.Equal(t, "x", got[0].Chunk.ID)
				assert.Equal(t, "rewritten", got[0].Chunk.Text)
				assert.Equal(t, int64(2), got[0].Chunk.Metadata["v"])
				assert.Equal(t, "y", got[1].Chunk.ID)
			})

			t.Run("metadata filter applied before ranking", func(t *testing.T) {
				s := factory(t, 2)
				require.NoError(t, s.Add(ctx, []Chunk{
					testChunk("en", "d1", []float64{1, 0}, Metadata{"lang": "en"}),
					testChunk("fr", "d2", []float64{0.9, 0.1}, Metadata{"lang": "fr", "year": 2023}),
				}))
				got, err := s.SimilaritySearch(ctx, []float64{1, 0}, 5, Metadata{"lang": "fr"})
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "fr", got[0].Chunk.ID)

				got, err = s.SimilaritySearch(ctx, []float64{1, 0}, 5, Metadata{"year": 2023.0})
				require.NoError(t, err)
				require.Len(t, got, 1)

				_, err = s.SimilaritySearch(ctx, []float64{1, 0}, 5, Metadata{"lang": struct{}{}})
				assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
			})

			t.Run("delete document cascades", func(t *testing.T) {
				s := factory(t, 2)
				require.NoError(t, s.Add(ctx, []Chunk{
					testChunk("d1#0", "d1", []float64{1, 0}, nil),
					testChunk("d1#1", "d1", []float64{0, 1}, nil),
					testChunk("d2#0", "d2", []float64{1, 1}, nil),
				}))
				require.NoError(t, s.DeleteDocument(ctx, "d1"))
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				got, err := s.SimilaritySearch(ctx, []float64{1, 0}, 10, nil)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "d2", got[0].Chunk.DocumentID)

				// 未知 ID 与未知文档不报错
				require.NoError(t, s.Delete(ctx, []string{"missing"}))
				require.NoError(t, s.DeleteDocument(ctx, "missing"))
			})

			t.Run("list chunks in insertion order", func(t *testing.T) {
				s := factory(t, 2)
				for i := range 4 {
					require.NoError(t, s.Add(ctx, []Chunk{
						testChunk(fmt.Sprintf("c%d", i), "d", []float64{float64(i), 1}, nil),
					}))
				}
				lister := s.(ChunkLister)
				chunks, err := lister.ListChunks(ctx, nil)
				require.NoError(t, err)
				require.Len(t, chunks, 4)
				for i, c := range chunks {
					assert.Equal(t, fmt.Sprintf("c%d", i), c.ID)
				}
			})

			t.Run("clear empties store", func(t *testing.T) {
				s := factory(t, 2)
				require.NoError(t, s.Add(ctx, []Chunk{testChunk("a", "d", []float64{1, 0}, nil)}))
				require.NoError(t, s.Clear(ctx))
				n, err := s.Count(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
			})

			t.Run("top k zero", func(t *testing.T) {
				s := factory(t, 2)
				require.NoError(t, s.Add(ctx, []Chunk{testChunk("a", "d", []float64{1, 0}, nil)}))
				got, err := s.SimilaritySearch(ctx, []float64{1, 0}, 0, nil)
				require.NoError(t, err)
				assert.Empty(t, got)
			})
		})
	}
}

func TestNewInMemoryVectorStore_InvalidDimension(t *testing.T) {
	_, err := NewInMemoryVectorStore(0, nil)
	assert.True(t, types.IsConfigurationError(err))
}

func TestInMemoryVectorStore_ClosedStore(t *testing.T) {
	s, err := NewInMemoryVectorStore(2, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Add(context.Background(), []Chunk{testChunk("a", "d", []float64{1, 0}, nil)}))
	_, err = s.SimilaritySearch(context.Background(), []float64{1, 0}, 1, nil)
	assert.Error(t, err)
}

// TestInMemoryVectorStore_ScoresNonIncreasing 任意写入集合上，检索结果按分数非递增且 topK 受限
func TestInMemoryVectorStore_ScoresNonIncreasing(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	vec := gen.SliceOfN(4, gen.Float64Range(-1, 1))
	properties.Property("scores are sorted and bounded", prop.ForAll(
		func(vectors [][]float64, query []float64, topK int) bool {
			s, err := NewInMemoryVectorStore(4, nil)
			if err != nil {
				return false
			}
			chunks := make([]Chunk, len(vectors))
			for i, v := range vectors {
				chunks[i] = testChunk(fmt.Sprintf("c%d", i), "d", v, nil)
			}
			if err := s.Add(context.Background(), chunks); err != nil {
				return false
			}
			got, err := s.SimilaritySearch(context.Background(), query, topK, nil)
			if err != nil {
				return false
			}
			if len(got) > topK || len(got) > len(vectors) {
				return false
			}
			for i := range got {
				if got[i].Rank != i+1 || got[i].Score < -1-1e-9 || got[i].Score > 1+1e-9 {
					return false
				}
				if i > 0 && got[i].Score > got[i-1].Score {
					return false
				}
			}
			return true
		},
		gen.SliceOf(vec),
		vec,
		gen.IntRange(1, 10),
	))
	properties.TestingRun(t)
}

// 写入以整篇文档为单位（4 块一起 Add / DeleteDocument / Clear），
// 并发搜索看到的每篇文档要么完整要么不存在。
func TestInMemoryVectorStore_ConcurrentSnapshot(t *testing.T) {
	const (
		chunksPerDoc = 4
		docs         = 20
		rounds       = 30
	)
	s, err := NewInMemoryVectorStore(4, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	docChunks := func(d int) []Chunk {
		out := make([]Chunk, chunksPerDoc)
		for i := range out {
			docID := fmt.Sprintf("doc%d", d)
			out[i] = testChunk(ChunkID(docID, i), docID, []float64{1, float64(d%5) / 5, float64(i) / 10, 0}, Metadata{"doc": int64(d)})
		}
		return out
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writers errgroup.Group
	for w := range 4 {
		writers.Go(func() error {
			for r := range rounds {
				d := (w*rounds + r) % docs
				if err := s.Add(ctx, docChunks(d)); err != nil {
					return err
				}
				switch r % 7 {
				case 3:
					if err := s.DeleteDocument(ctx, fmt.Sprintf("doc%d", (d+1)%docs)); err != nil {
						return err
					}
				case 6:
					if w == 0 {
						if err := s.Clear(ctx); err != nil {
							return err
						}
					}
				}
			}
			return nil
		})
	}

	readers, rctx := errgroup.WithContext(ctx)
	for range 4 {
		readers.Go(func() error {
			for rctx.Err() == nil {
				got, err := s.SimilaritySearch(rctx, []float64{1, 0, 0, 0}, docs*chunksPerDoc, nil)
				if err != nil {
					return err
				}
				perDoc := map[string]int{}
				for i, c := range got {
					if c.Rank != i+1 {
						return fmt.Errorf("rank %d at position %d", c.Rank, i)
					}
					if i > 0 && c.Score > got[i-1].Score {
						return fmt.Errorf("scores not sorted at %d", i)
					}
					perDoc[c.Chunk.DocumentID]++
				}
				for doc, n := range perDoc {
					if n != chunksPerDoc {
						return fmt.Errorf("document %s seen with %d of %d chunks", doc, n, chunksPerDoc)
					}
				}
				if _, err := s.Count(rctx); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, writers.Wait())
	cancel()
	err = readers.Wait()
	if err != nil {
		require.ErrorIs(t, err, context.Canceled)
	}

	got, err := s.SimilaritySearch(context.Background(), []float64{1, 0, 0, 0}, docs*chunksPerDoc, nil)
	require.NoError(t, err)
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, n)
	assert.Zero(t, n%chunksPerDoc)
}
