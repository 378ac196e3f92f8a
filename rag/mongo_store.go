package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/internal/vecmath"
	"github.com/BaSui01/ragcore/types"
)

// ====== MongoDB 向量存储 ======

const mongoCloseTimeout = 5 * time.Second

// mongoChunk 集合中的文档；_id 即块 ID，seq 在首次插入时分配
type mongoChunk struct {
	ID         string    `bson:"_id"`
	DocumentID string    `bson:"document_id"`
	Text       string    `bson:"text"`
	StartIndex int       `bson:"start_index"`
	EndIndex   int       `bson:"end_index"`
	TokenCount int       `bson:"token_count"`
	Embedding  []float64 `bson:"embedding"`
	Metadata   bson.M    `bson:"metadata"`
	Seq        int64     `bson:"seq"`
}

// MongoVectorStore 基于 mongo-driver v2 的向量存储。元数据过滤下推为 bson 查询，
// 余弦相似度在 Go 中按 seq 顺序计算。
type MongoVectorStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	counters   *mongo.Collection
	dim        int
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewMongoVectorStore 连接 MongoDB 并创建索引
func NewMongoVectorStore(ctx context.Context, cfg config.MongoDBConfig, dimension int, logger *zap.Logger) (*MongoVectorStore, error) {
	if cfg.URI == "" {
		return nil, types.NewConfigurationError("storage.mongodb.uri is required")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, types.NewConfigurationError("storage.mongodb.database and storage.mongodb.collection are required")
	}
	if dimension <= 0 {
		return nil, types.NewConfigurationError("vector store dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetServerSelectionTimeout(cfg.Timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, types.NewProviderUnavailableError("mongodb", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, types.NewProviderUnavailableError("mongodb", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoVectorStore{
		client:     client,
		collection: db.Collection(cfg.Collection),
		counters:   db.Collection("counters"),
		dim:        dimension,
		logger:     logger.With(zap.String("component", "mongo_store"), zap.String("collection", cfg.Collection)),
	}

	_, err = s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create mongo indexes: %w", err)
	}

	s.logger.Info("mongo vector store ready", zap.Int("dimension", dimension))
	return s, nil
}

// Dimension 存储维度
func (s *MongoVectorStore) Dimension() int { return s.dim }

// reserveSeq 原子地预留 n 个连续序号，返回第一个
func (s *MongoVectorStore) reserveSeq(ctx context.Context, n int) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": s.collection.Name()},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		opts)
	if res.Err() != nil {
		return 0, res.Err()
	}
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq - int64(n) + 1, nil
}

// Add 批量 upsert；seq 通过 $setOnInsert 只在首次插入时写入，覆盖写保留原位置
func (s *MongoVectorStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first, err := s.reserveSeq(ctx, len(chunks))
	if err != nil {
		return fmt.Errorf("reserve chunk sequence: %w", err)
	}

	models := make([]mongo.WriteModel, 0, len(chunks))
	for i, c := range chunks {
		meta := c.Metadata
		if meta == nil {
			meta = Metadata{}
		}
		update := bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "document_id", Value: c.DocumentID},
				{Key: "text", Value: c.Text},
				{Key: "start_index", Value: c.StartIndex},
				{Key: "end_index", Value: c.EndIndex},
				{Key: "token_count", Value: c.TokenCount},
				{Key: "embedding", Value: c.Embedding},
				{Key: "metadata", Value: bson.M(meta)},
			}},
			{Key: "$setOnInsert", Value: bson.D{{Key: "seq", Value: first + int64(i)}}},
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: c.ID}}).
			SetUpdate(update).
			SetUpsert(true))
	}

	res, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	s.logger.Debug("chunks upserted",
		zap.Int64("inserted", res.UpsertedCount),
		zap.Int64("modified", res.ModifiedCount))
	return nil
}

// mongoFilter 把元数据精确匹配转换为 bson 查询
func mongoFilter(filter Metadata) bson.D {
	q := bson.D{}
	for k, v := range filter {
		if k == MetaDocumentID {
			q = append(q, bson.E{Key: "document_id", Value: v})
			continue
		}
		q = append(q, bson.E{Key: "metadata." + k, Value: v})
	}
	return q
}

// scan 按 seq 升序遍历匹配的文档
func (s *MongoVectorStore) scan(ctx context.Context, filter Metadata, fn func(Chunk)) error {
	cur, err := s.collection.Find(ctx, mongoFilter(filter),
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return fmt.Errorf("find chunks: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc mongoChunk
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		c, err := doc.toChunk()
		if err != nil {
			return err
		}
		// 数值类型在服务端比较时可能比 Go 端宽松，再精确校验一次
		if filter != nil && !matchesFilter(c.Metadata, filter) {
			continue
		}
		fn(c)
	}
	return cur.Err()
}

// SimilaritySearch 余弦相似度检索
func (s *MongoVectorStore) SimilaritySearch(ctx context.Context, query []float64, topK int, filter Metadata) ([]RetrievedCandidate, error) {
	if topK <= 0 {
		return []RetrievedCandidate{}, nil
	}
	f, err := prepareSearch(query, s.dim, filter)
	if err != nil {
		return nil, err
	}

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
func (s *MongoVectorStore) ListChunks(ctx context.Context, filter Metadata) ([]Chunk, error) {
	var f Metadata
	if len(filter) > 0 {
		f = filter.Clone()
		if err := ValidateMetadata(f); err != nil {
			return nil, err
		}
	}
	var out []Chunk
	if err := s.scan(ctx, f, func(c Chunk) { out = append(out, c) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete 按 ID 删除
func (s *MongoVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.deleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// DeleteDocument 级联删除
func (s *MongoVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.deleteMany(ctx, bson.M{"document_id": documentID})
}

// Clear 清空集合
func (s *MongoVectorStore) Clear(ctx context.Context) error {
	return s.deleteMany(ctx, bson.M{})
}

func (s *MongoVectorStore) deleteMany(ctx context.Context, filter bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	s.logger.Debug("chunks deleted", zap.Int64("deleted", res.DeletedCount))
	return nil
}

// Count 块数量
func (s *MongoVectorStore) Count(ctx context.Context) (int, error) {
	n, err := s.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return int(n), nil
}

// Close 断开连接
func (s *MongoVectorStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d mongoChunk) toChunk() (Chunk, error) {
	meta, err := metadataFromBSON(d.Metadata)
	if err != nil {
		return Chunk{}, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
	}
	return Chunk{
		ID:         d.ID,
		DocumentID: d.DocumentID,
		Text:       d.Text,
		StartIndex: d.StartIndex,
		EndIndex:   d.EndIndex,
		TokenCount: d.TokenCount,
		Embedding:  d.Embedding,
		Metadata:   meta,
	}, nil
}

// metadataFromBSON 把 bson 解码值还原为受支持的元数据类型
func metadataFromBSON(m bson.M) (Metadata, error) {
	out := make(Metadata, len(m))
	for k, v := range m {
		if arr, ok := v.(bson.A); ok {
			v = []any(arr)
		}
		if v == nil {
			continue
		}
		norm, ok := normalizeMetaValue(v)
		if !ok {
			return nil, fmt.Errorf("metadata %q: unsupported bson value %T", k, v)
		}
		out[k] = norm
	}
	return out, nil
}
