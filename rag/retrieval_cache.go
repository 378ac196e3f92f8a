package rag

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"time"
)

// ====== 检索结果缓存（LRU + TTL）======

type resultEntry struct {
	key       string
	outcome   RetrievalOutcome
	expiresAt time.Time
}

// resultCache 检索结果缓存，存储写入后由编排器整体失效
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &resultCache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

func (c *resultCache) get(key string) (RetrievalOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return RetrievalOutcome{}, false
	}
	e := el.Value.(*resultEntry)
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return RetrievalOutcome{}, false
	}
	c.ll.MoveToFront(el)
	out := e.outcome
	out.Candidates = slices.Clone(out.Candidates)
	return out, true
}

func (c *resultCache) set(key string, outcome RetrievalOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome.Candidates = slices.Clone(outcome.Candidates)
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	if el, ok := c.items[key]; ok {
		el.Value = &resultEntry{key: key, outcome: outcome, expiresAt: exp}
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&resultEntry{key: key, outcome: outcome, expiresAt: exp})
	for c.ll.Len() > c.capacity {
		last := c.ll.Back()
		c.ll.Remove(last)
		delete(c.items, last.Value.(*resultEntry).key)
	}
}

func (c *resultCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// resultCacheKey 由策略、查询、topK、权重与过滤条件计算 SHA-256。
// 过滤条件经 JSON 编码，map 键按字典序输出。
func resultCacheKey(strategy RetrievalStrategy, query string, topK int, wSem, wKey float64, filter Metadata) string {
	h := sha256.New()
	h.Write([]byte(strategy))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(wSem, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(wKey, 'g', -1, 64)))
	h.Write([]byte{0})
	if len(filter) > 0 {
		fb, _ := json.Marshal(map[string]any(filter))
		h.Write(fb)
	}
	return "ret:" + hex.EncodeToString(h.Sum(nil))
}
