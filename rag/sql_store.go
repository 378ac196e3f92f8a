package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/ragcore/internal/database"
	"github.com/BaSui01/ragcore/internal/vecmath"
	"github.com/BaSui01/ragcore/types"
)

// ====== SQL 向量存储（sqlite / postgres / mysql，基于 GORM）======

// chunkRecord rag_chunks 表行。seq 为插入序号，覆盖写时保持不变。
type chunkRecord struct {
	Seq        int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ChunkID    string    `gorm:"column:id;size:512;not null;uniqueIndex:idx_rag_chunks_id"`
	DocumentID string    `gorm:"column:document_id;size:255;not null;index:idx_rag_chunks_document_id"`
	Text       string    `gorm:"column:text;type:text;not null"`
	StartIndex int       `gorm:"column:start_index;not null;default:0"`
	EndIndex   int       `gorm:"column:end_index;not null;default:0"`
	TokenCount int       `gorm:"column:token_count;not null;default:0"`
	Embedding  string    `gorm:"column:embedding;type:text;not null"`
	Metadata   string    `gorm:"column:metadata;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName 表名与迁移脚本保持一致
func (chunkRecord) TableName() string { return "rag_chunks" }

// 覆盖写时更新的列；seq 与 created_at 保留
var upsertColumns = []string{
	"document_id", "text", "start_index", "end_index", "token_count",
	"embedding", "metadata", "updated_at",
}

// QueryRecorder 接收 SQL 操作耗时（由 metrics.Collector 实现）
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// SQLStoreOption SQL 存储选项
type SQLStoreOption func(*SQLVectorStore)

// WithQueryRecorder 设置 SQL 耗时记录器
func WithQueryRecorder(r QueryRecorder) SQLStoreOption {
	return func(s *SQLVectorStore) { s.recorder = r }
}

// WithWriteRetries 设置写事务在死锁/断连时的重试次数
func WithWriteRetries(n int) SQLStoreOption {
	return func(s *SQLVectorStore) { s.writeRetries = n }
}

// SQLVectorStore 基于 GORM 的向量存储。向量以 JSON 保存，余弦相似度在 Go 中
// 按 seq 顺序流式计算。同一实例内的写操作互斥。
type SQLVectorStore struct {
	pool         *database.PoolManager
	driver       string
	dim          int
	writeRetries int
	recorder     QueryRecorder
	mu           sync.Mutex
	logger       *zap.Logger
}

// NewSQLVectorStore 基于连接池创建存储。sqlite 通过 AutoMigrate 建表；
// postgres/mysql 要求表已由迁移创建。
func NewSQLVectorStore(ctx context.Context, pool *database.PoolManager, driver string, dimension int, logger *zap.Logger, opts ...SQLStoreOption) (*SQLVectorStore, error) {
	if pool == nil {
		return nil, types.NewConfigurationError("sql vector store requires a connection pool")
	}
	if dimension <= 0 {
		return nil, types.NewConfigurationError("vector store dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLVectorStore{
		pool:         pool,
		driver:       driver,
		dim:          dimension,
		writeRetries: 2,
		logger:       logger.With(zap.String("component", "sql_store"), zap.String("driver", driver)),
	}
	for _, opt := range opts {
		opt(s)
	}

	db := pool.DB().WithContext(ctx)
	switch driver {
	case "sqlite":
		if err := db.AutoMigrate(&chunkRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate rag_chunks: %w", err)
		}
	case "postgres", "mysql":
		if !db.Migrator().HasTable(&chunkRecord{}) {
			return nil, types.NewConfigurationError(
				"table rag_chunks does not exist, run `ragcore migrate up` for %s first", driver)
		}
	default:
		return nil, types.NewConfigurationError("unsupported sql driver %q", driver)
	}

	s.logger.Info("sql vector store ready", zap.Int("dimension", dimension))
	return s, nil
}

// Dimension 存储维度
func (s *SQLVectorStore) Dimension() int { return s.dim }

func (s *SQLVectorStore) observe(op string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDBQuery(s.pool.Name(), op, time.Since(start))
	}
}

// Add 在单个事务中 upsert（按 id 冲突更新），同批重复 ID 取最后一个
func (s *SQLVectorStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dim); err != nil {
		return err
	}

	records := make([]chunkRecord, 0, len(chunks))
	pos := make(map[string]int, len(chunks))
	for _, c := range chunks {
		rec, err := toRecord(c)
		if err != nil {
			return err
		}
		if i, ok := pos[c.ID]; ok {
			records[i] = rec
			continue
		}
		pos[c.ID] = len(records)
		records = append(records, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe("add", time.Now())

	err := s.pool.WithTransactionRetry(ctx, s.writeRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).CreateInBatches(&records, 200).Error
	})
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}

	s.logger.Debug("chunks upserted", zap.Int("count", len(records)))
	return nil
}

// SimilaritySearch 流式读取候选行并在 Go 中计算余弦相似度。
// document_id 过滤条件下推到 SQL，其余元数据在 Go 中匹配。
func (s *SQLVectorStore) SimilaritySearch(ctx context.Context, query []float64, topK int, filter Metadata) ([]RetrievedCandidate, error) {
	if topK <= 0 {
		return []RetrievedCandidate{}, nil
	}
	f, err := prepareSearch(query, s.dim, filter)
	if err != nil {
		return nil, err
	}
	defer s.observe("search", time.Now())

	qnorm := vecmath.Norm(query)
	var items []scoredChunk
	err = s.scan(ctx, f, func(c Chunk) {
		items = append(items, scoredChunk{
			chunk: c,
			score: vecmath.CosineWithNorms(query, qnorm, c.Embedding, vecmath.Norm(c.Embedding)),
		})
	})
	if err != nil {
		return nil, err
	}
	return rankScored(items, topK), nil
}

// ListChunks 按 seq 顺序返回匹配的块
func (s *SQLVectorStore) ListChunks(ctx context.Context, filter Metadata) ([]Chunk, error) {
	var f Metadata
	if len(filter) > 0 {
		f = filter.Clone()
		if err := ValidateMetadata(f); err != nil {
			return nil, err
		}
	}
	defer s.observe("list", time.Now())

	var out []Chunk
	if err := s.scan(ctx, f, func(c Chunk) { out = append(out, c) }); err != nil {
		return nil, err
	}
	return out, nil
}

// scan 按 seq 升序逐行解码，对匹配过滤条件的块调用 fn
func (s *SQLVectorStore) scan(ctx context.Context, filter Metadata, fn func(Chunk)) error {
	db := s.pool.DB().WithContext(ctx).Model(&chunkRecord{})
	if docID, ok := filter[MetaDocumentID].(string); ok {
		db = db.Where("document_id = ?", docID)
	}

	rows, err := db.Order("seq ASC").Rows()
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec chunkRecord
		if err := s.pool.DB().ScanRows(rows, &rec); err != nil {
			return fmt.Errorf("scan chunk row: %w", err)
		}
		c, err := fromRecord(rec)
		if err != nil {
			return err
		}
		if filter != nil && !matchesFilter(c.Metadata, filter) {
			continue
		}
		fn(c)
	}
	return rows.Err()
}

// Delete 按 ID 删除
func (s *SQLVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.deleteWhere(ctx, "delete", "id IN ?", ids)
}

// DeleteDocument 级联删除文档的全部块
func (s *SQLVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteWhere(ctx, "delete_document", "document_id = ?", documentID)
}

// Clear 清空表
func (s *SQLVectorStore) Clear(ctx context.Context) error {
	return s.deleteWhere(ctx, "clear", "1 = 1")
}

func (s *SQLVectorStore) deleteWhere(ctx context.Context, op string, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.observe(op, time.Now())

	var affected int64
	err := s.pool.WithTransactionRetry(ctx, s.writeRetries, func(tx *gorm.DB) error {
		res := tx.Where(query, args...).Delete(&chunkRecord{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("%s chunks: %w", op, err)
	}
	s.logger.Debug("chunks deleted", zap.String("op", op), zap.Int64("deleted", affected))
	return nil
}

// Count 块数量
func (s *SQLVectorStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.DB().WithContext(ctx).Model(&chunkRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(n), nil
}

// Close 关闭连接池
func (s *SQLVectorStore) Close() error {
	return s.pool.Close()
}

func toRecord(c Chunk) (chunkRecord, error) {
	emb, err := json.Marshal(c.Embedding)
	if err != nil {
		return chunkRecord{}, fmt.Errorf("encode embedding of %s: %w", c.ID, err)
	}
	meta := c.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return chunkRecord{}, fmt.Errorf("encode metadata of %s: %w", c.ID, err)
	}
	return chunkRecord{
		ChunkID:    c.ID,
		DocumentID: c.DocumentID,
		Text:       c.Text,
		StartIndex: c.StartIndex,
		EndIndex:   c.EndIndex,
		TokenCount: c.TokenCount,
		Embedding:  string(emb),
		Metadata:   string(mb),
	}, nil
}

func fromRecord(r chunkRecord) (Chunk, error) {
	c := Chunk{
		ID:         r.ChunkID,
		DocumentID: r.DocumentID,
		Text:       r.Text,
		StartIndex: r.StartIndex,
		EndIndex:   r.EndIndex,
		TokenCount: r.TokenCount,
	}
	if err := json.Unmarshal([]byte(r.Embedding), &c.Embedding); err != nil {
		return Chunk{}, fmt.Errorf("decode embedding of %s: %w", r.ChunkID, err)
	}
	meta, err := decodeMetadataJSON([]byte(r.Metadata))
	if err != nil {
		return Chunk{}, fmt.Errorf("decode metadata of %s: %w", r.ChunkID, err)
	}
	c.Metadata = meta
	return c, nil
}

// decodeMetadataJSON 解码 JSON 元数据；整数值恢复为 int64
func decodeMetadataJSON(data []byte) (Metadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		if len(v) > 0 && (v[0] == '-' || (v[0] >= '0' && v[0] <= '9')) {
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return nil, err
			}
			if i, err := n.Int64(); err == nil {
				out[k] = i
			} else if f, err := n.Float64(); err == nil {
				out[k] = f
			} else {
				return nil, err
			}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, err
		}
		if val == nil {
			continue
		}
		norm, ok := normalizeMetaValue(val)
		if !ok {
			return nil, fmt.Errorf("metadata %q: unsupported value", k)
		}
		out[k] = norm
	}
	return out, nil
}
