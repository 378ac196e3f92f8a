package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/ragcore/internal/cache"
)

// Cache 向量缓存后端.
type Cache interface {
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vec []float64) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// ====== 内存 LRU 缓存 ======

type lruEntry struct {
	key       string
	vec       []float64
	expiresAt time.Time
}

// MemoryCache 带 TTL 的 LRU 向量缓存.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

// NewMemoryCache 创建内存缓存；ttl<=0 表示不过期.
func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, key string) ([]float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false, nil
	}
	c.ll.MoveToFront(el)
	return slices.Clone(entry.vec), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vec []float64) error {
	vec = slices.Clone(vec)
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		el.Value = &lruEntry{key: key, vec: vec, expiresAt: expiresAt}
		c.ll.MoveToFront(el)
		return nil
	}

	c.items[key] = c.ll.PushFront(&lruEntry{key: key, vec: vec, expiresAt: expiresAt})
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
	return nil
}

// Len 返回当前条目数.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// ====== Redis 缓存 ======

// RedisCache 基于 internal/cache.Manager 的共享向量缓存.
type RedisCache struct {
	mgr *cache.Manager
	ttl time.Duration
}

// NewRedisCache 创建 Redis 缓存.
func NewRedisCache(mgr *cache.Manager, ttl time.Duration) *RedisCache {
	return &RedisCache{mgr: mgr, ttl: ttl}
}

func (c *RedisCache) Name() string { return "redis" }

func (c *RedisCache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	var vec []float64
	if err := c.mgr.GetJSON(ctx, key, &vec); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vec []float64) error {
	return c.mgr.SetJSON(ctx, key, vec, c.ttl)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.mgr.Delete(ctx, key)
}

// ====== 缓存装饰器 ======

// CachedProvider 以内容哈希为键缓存向量。
// 维度不符的缓存项视为未命中并被删除；缓存后端故障只记录日志，不影响嵌入。
type CachedProvider struct {
	inner    Provider
	cache    Cache
	group    singleflight.Group
	recorder Recorder
	logger   *zap.Logger
}

// NewCachedProvider 创建带缓存的提供者.
func NewCachedProvider(inner Provider, c Cache, recorder Recorder, logger *zap.Logger) *CachedProvider {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:    inner,
		cache:    c,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "embedding_cache")),
	}
}

func (p *CachedProvider) Name() string      { return p.inner.Name() }
func (p *CachedProvider) Dimensions() int   { return p.inner.Dimensions() }
func (p *CachedProvider) MaxBatchSize() int { return p.inner.MaxBatchSize() }

// CacheKey 内容哈希键：provider + 维度 + 文本.
func CacheKey(provider string, dim int, text string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(dim)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "emb:" + hex.EncodeToString(h.Sum(nil))
}

func (p *CachedProvider) lookup(ctx context.Context, key string) ([]float64, bool) {
	vec, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("embedding cache get failed", zap.Error(err))
		return nil, false
	}
	if ok && len(vec) != p.Dimensions() {
		p.logger.Warn("evicting cached embedding with wrong dimension",
			zap.Int("expected", p.Dimensions()),
			zap.Int("got", len(vec)),
		)
		_ = p.cache.Delete(ctx, key)
		ok = false
	}
	p.recorder.RecordEmbeddingCache(p.cache.Name(), ok)
	return vec, ok
}

func (p *CachedProvider) store(ctx context.Context, key string, vec []float64) {
	if err := p.cache.Set(ctx, key, vec); err != nil {
		p.logger.Warn("embedding cache set failed", zap.Error(err))
	}
}

// Embed 相同文本的并发未命中合并为一次调用.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	key := CacheKey(p.Name(), p.Dimensions(), text)
	if vec, ok := p.lookup(ctx, key); ok {
		return vec, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		vec, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		p.store(ctx, key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}

// EmbedBatch 只为未命中的去重文本调用底层提供者.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))
	missIdx := make(map[string][]int)
	var missTexts []string

	for i, t := range texts {
		keys[i] = CacheKey(p.Name(), p.Dimensions(), t)
		if vec, ok := p.lookup(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		if _, seen := missIdx[keys[i]]; !seen {
			missTexts = append(missTexts, t)
		}
		missIdx[keys[i]] = append(missIdx[keys[i]], i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, t := range missTexts {
		key := CacheKey(p.Name(), p.Dimensions(), t)
		p.store(ctx, key, vecs[j])
		for _, i := range missIdx[key] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}
