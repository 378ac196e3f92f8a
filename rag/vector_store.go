package rag

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/internal/vecmath"
	"github.com/BaSui01/ragcore/types"
)

// VectorStore 向量存储接口。
//
// Add 对同一 ID 采用后写覆盖：覆盖时原地替换内容，保留最初的插入位置用于排序平局。
// 任一块的向量维度与存储维度不一致时整批拒绝。
type VectorStore interface {
	// Add 写入块
	Add(ctx context.Context, chunks []Chunk) error

	// SimilaritySearch 余弦相似度检索，filter 为元数据精确匹配，先过滤后排序
	SimilaritySearch(ctx context.Context, query []float64, topK int, filter Metadata) ([]RetrievedCandidate, error)

	// Delete 按块 ID 删除，未知 ID 忽略
	Delete(ctx context.Context, ids []string) error

	// DeleteDocument 删除文档的全部块
	DeleteDocument(ctx context.Context, documentID string) error

	// Clear 清空
	Clear(ctx context.Context) error

	// Count 块数量
	Count(ctx context.Context) (int, error)

	// Dimension 存储维度
	Dimension() int

	// Close 释放资源
	Close() error
}

// ChunkLister 按插入顺序列出块，关键词检索依赖此能力
type ChunkLister interface {
	ListChunks(ctx context.Context, filter Metadata) ([]Chunk, error)
}

var errStoreClosed = types.NewError(types.ErrInternalError, "vector store closed")

// validateChunks 校验整批块；任何一块不合法则整批拒绝
func validateChunks(chunks []Chunk, dim int) error {
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			return types.NewError(types.ErrInvalidRequest, "chunk id must not be empty")
		}
		if len(c.Embedding) != dim {
			return types.NewDimensionMismatchError(c.ID, dim, len(c.Embedding))
		}
		if c.Metadata != nil {
			if err := ValidateMetadata(c.Metadata); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepareSearch 校验查询参数，返回规范化后的过滤条件副本
func prepareSearch(query []float64, dim int, filter Metadata) (Metadata, error) {
	if len(query) != dim {
		return nil, types.NewDimensionMismatchError("query", dim, len(query))
	}
	if len(filter) == 0 {
		return nil, nil
	}
	f := filter.Clone()
	if err := ValidateMetadata(f); err != nil {
		return nil, err
	}
	return f, nil
}

// scoredChunk 按插入顺序排列的打分结果
type scoredChunk struct {
	chunk Chunk
	score float64
}

// rankScored 稳定降序排序并截断到 topK，输入须为插入顺序
func rankScored(items []scoredChunk, topK int) []RetrievedCandidate {
	slices.SortStableFunc(items, func(a, b scoredChunk) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if len(items) > topK {
		items = items[:topK]
	}
	out := make([]RetrievedCandidate, len(items))
	for i, it := range items {
		out[i] = RetrievedCandidate{
			Chunk:         it.chunk,
			Score:         it.score,
			SemanticScore: it.score,
			Rank:          i + 1,
		}
	}
	return out
}

func cloneChunk(c Chunk) Chunk {
	c.Embedding = slices.Clone(c.Embedding)
	c.Metadata = c.Metadata.Clone()
	return c
}

// ====== 内存向量存储 ======

type memEntry struct {
	chunk Chunk
	norm  float64
}

// memSnapshot 不可变快照；写操作复制后整体替换
type memSnapshot struct {
	entries []memEntry
	index   map[string]int
}

// InMemoryVectorStore 内存向量存储。写操作互斥，读操作读取原子快照，不阻塞写。
type InMemoryVectorStore struct {
	dim    int
	mu     sync.Mutex
	snap   atomic.Pointer[memSnapshot]
	closed atomic.Bool
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(dimension int, logger *zap.Logger) (*InMemoryVectorStore, error) {
	if dimension <= 0 {
		return nil, types.NewConfigurationError("vector store dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &InMemoryVectorStore{
		dim:    dimension,
		logger: logger.With(zap.String("component", "memory_store")),
	}
	s.snap.Store(&memSnapshot{index: map[string]int{}})
	return s, nil
}

// Dimension 存储维度
func (s *InMemoryVectorStore) Dimension() int { return s.dim }

// Add 写入块，同 ID 后写覆盖
func (s *InMemoryVectorStore) Add(ctx context.Context, chunks []Chunk) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dim); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snap.Load()
	next := &memSnapshot{
		entries: slices.Clone(old.entries),
		index:   make(map[string]int, len(old.index)+len(chunks)),
	}
	for id, i := range old.index {
		next.index[id] = i
	}

	replaced := 0
	for _, c := range chunks {
		e := memEntry{chunk: cloneChunk(c), norm: vecmath.Norm(c.Embedding)}
		if i, ok := next.index[c.ID]; ok {
			next.entries[i] = e
			replaced++
			continue
		}
		next.index[c.ID] = len(next.entries)
		next.entries = append(next.entries, e)
	}
	s.snap.Store(next)

	s.logger.Debug("chunks added",
		zap.Int("count", len(chunks)),
		zap.Int("replaced", replaced),
		zap.Int("total", len(next.entries)))
	return nil
}

// SimilaritySearch 在快照上暴力扫描
func (s *InMemoryVectorStore) SimilaritySearch(ctx context.Context, query []float64, topK int, filter Metadata) ([]RetrievedCandidate, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	if topK <= 0 {
		return []RetrievedCandidate{}, nil
	}
	f, err := prepareSearch(query, s.dim, filter)
	if err != nil {
		return nil, err
	}

	snap := s.snap.Load()
	qnorm := vecmath.Norm(query)
	items := make([]scoredChunk, 0, len(snap.entries))
	for i := range snap.entries {
		e := &snap.entries[i]
		if f != nil && !matchesFilter(e.chunk.Metadata, f) {
			continue
		}
		items = append(items, scoredChunk{
			chunk: e.chunk,
			score: vecmath.CosineWithNorms(query, qnorm, e.chunk.Embedding, e.norm),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := rankScored(items, topK)
	for i := range out {
		out[i].Chunk = cloneChunk(out[i].Chunk)
	}
	return out, nil
}

// ListChunks 按插入顺序返回匹配过滤条件的块
func (s *InMemoryVectorStore) ListChunks(ctx context.Context, filter Metadata) ([]Chunk, error) {
	if s.closed.Load() {
		return nil, errStoreClosed
	}
	var f Metadata
	if len(filter) > 0 {
		f = filter.Clone()
		if err := ValidateMetadata(f); err != nil {
			return nil, err
		}
	}
	snap := s.snap.Load()
	out := make([]Chunk, 0, len(snap.entries))
	for _, e := range snap.entries {
		if f != nil && !matchesFilter(e.chunk.Metadata, f) {
			continue
		}
		out = append(out, e.chunk)
	}
	return out, nil
}

// Delete 按 ID 删除
func (s *InMemoryVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return s.deleteWhere(func(c *Chunk) bool {
		_, ok := drop[c.ID]
		return ok
	})
}

// DeleteDocument 级联删除文档的全部块
func (s *InMemoryVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteWhere(func(c *Chunk) bool { return c.DocumentID == documentID })
}

func (s *InMemoryVectorStore) deleteWhere(match func(*Chunk) bool) error {
	if s.closed.Load() {
		return errStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snap.Load()
	next := &memSnapshot{
		entries: make([]memEntry, 0, len(old.entries)),
		index:   make(map[string]int, len(old.index)),
	}
	for _, e := range old.entries {
		if match(&e.chunk) {
			continue
		}
		next.index[e.chunk.ID] = len(next.entries)
		next.entries = append(next.entries, e)
	}
	deleted := len(old.entries) - len(next.entries)
	if deleted == 0 {
		return nil
	}
	s.snap.Store(next)

	s.logger.Debug("chunks deleted",
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(next.entries)))
	return nil
}

// Clear 清空
func (s *InMemoryVectorStore) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return errStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&memSnapshot{index: map[string]int{}})
	s.logger.Info("vector store cleared")
	return nil
}

// Count 块数量
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, errStoreClosed
	}
	return len(s.snap.Load().entries), nil
}

// Close 关闭存储，之后的操作返回错误
func (s *InMemoryVectorStore) Close() error {
	s.closed.Store(true)
	return nil
}
