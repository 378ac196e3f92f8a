package context

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/memory"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// SessionStore 会话存储接口
type SessionStore interface {
	// Create 会话不存在时创建，已存在时不做修改；返回当前会话
	Create(ctx context.Context, sessionID string, now time.Time) (*Conversation, error)
	// Get 获取会话，不存在时返回 ErrSessionNotFound
	Get(ctx context.Context, sessionID string) (*Conversation, error)
	// AppendTurn 原子追加一轮，maxStored > 0 时只保留最近 maxStored 轮
	AppendTurn(ctx context.Context, sessionID string, turn Turn, maxStored int) error
	// SetState 更新压缩标记、摘要与短期记忆
	SetState(ctx context.Context, sessionID string, state State, now time.Time) error
	// Delete 删除会话
	Delete(ctx context.Context, sessionID string) error
}

// ====== 内存存储 ======

// MemorySessionStore 进程内会话存储
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Conversation
}

// NewMemorySessionStore 创建内存会话存储
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Conversation)}
}

func (s *MemorySessionStore) Create(_ context.Context, sessionID string, now time.Time) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		conv = &Conversation{SessionID: sessionID, Turns: []Turn{}, CreatedAt: now, UpdatedAt: now}
		s.sessions[sessionID] = conv
	}
	return cloneConversation(conv), nil
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemorySessionStore) AppendTurn(_ context.Context, sessionID string, turn Turn, maxStored int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	conv.Turns = append(conv.Turns, turn)
	if maxStored > 0 && len(conv.Turns) > maxStored {
		conv.Turns = slices.Clone(conv.Turns[len(conv.Turns)-maxStored:])
	}
	conv.UpdatedAt = turn.Timestamp
	return nil
}

func (s *MemorySessionStore) SetState(_ context.Context, sessionID string, state State, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	conv.Compressed = state.Compressed
	conv.Summary = state.Summary
	conv.ShortTermMemory = slices.Clone(state.ShortTermMemory)
	conv.UpdatedAt = now
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Turns = slices.Clone(c.Turns)
	out.ShortTermMemory = slices.Clone(c.ShortTermMemory)
	return &out
}

// ====== Redis 存储 ======
// 每个会话两个键：<prefix><id>:meta（hash）与 <prefix><id>:turns（list，元素为 JSON）。

const defaultSessionKeyPrefix = "ragcore:session:"

// appendTurnScript 原子追加并裁剪，同时刷新两个键的 TTL
var appendTurnScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('RPUSH', KEYS[2], ARGV[1])
local max = tonumber(ARGV[2])
if max > 0 then
	redis.call('LTRIM', KEYS[2], -max, -1)
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
	redis.call('EXPIRE', KEYS[2], ttl)
end
return redis.call('LLEN', KEYS[2])
`)

// createScript 仅在 meta 不存在时写入创建时间
var createScript = redis.NewScript(`
local created = redis.call('HSETNX', KEYS[1], 'created_at', ARGV[1])
if created == 1 then
	redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
	local ttl = tonumber(ARGV[2])
	if ttl > 0 then
		redis.call('EXPIRE', KEYS[1], ttl)
	end
end
return created
`)

// RedisSessionStore 基于 go-redis 的会话存储
type RedisSessionStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisSessionStore 创建 Redis 会话存储；ttl <= 0 表示不过期
func NewRedisSessionStore(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisSessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionStore{
		rdb:       rdb,
		keyPrefix: defaultSessionKeyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "redis_session_store")),
	}
}

func (s *RedisSessionStore) metaKey(id string) string  { return s.keyPrefix + id + ":meta" }
func (s *RedisSessionStore) turnsKey(id string) string { return s.keyPrefix + id + ":turns" }

func (s *RedisSessionStore) ttlSeconds() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return max(int64(s.ttl/time.Second), 1)
}

func (s *RedisSessionStore) Create(ctx context.Context, sessionID string, now time.Time) (*Conversation, error) {
	_, err := createScript.Run(ctx, s.rdb, []string{s.metaKey(sessionID)},
		now.UTC().Format(time.RFC3339Nano), s.ttlSeconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("redis create session: %w", err)
	}
	return s.Get(ctx, sessionID)
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	meta, err := s.rdb.HGetAll(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(meta) == 0 {
		return nil, ErrSessionNotFound
	}
	raw, err := s.rdb.LRange(ctx, s.turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get turns: %w", err)
	}

	conv := &Conversation{SessionID: sessionID, Turns: make([]Turn, 0, len(raw))}
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		conv.Turns = append(conv.Turns, t)
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, meta["created_at"])
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, meta["updated_at"])
	conv.Summary = meta["summary"]
	conv.Compressed, _ = strconv.ParseBool(meta["compressed"])
	if m := meta["memory"]; m != "" {
		if err := json.Unmarshal([]byte(m), &conv.ShortTermMemory); err != nil {
			return nil, fmt.Errorf("unmarshal short-term memory: %w", err)
		}
	}
	return conv, nil
}

func (s *RedisSessionStore) AppendTurn(ctx context.Context, sessionID string, turn Turn, maxStored int) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	n, err := appendTurnScript.Run(ctx, s.rdb,
		[]string{s.metaKey(sessionID), s.turnsKey(sessionID)},
		data, maxStored, s.ttlSeconds(), turn.Timestamp.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("redis append turn: %w", err)
	}
	if n == -1 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisSessionStore) SetState(ctx context.Context, sessionID string, state State, now time.Time) error {
	mem := state.ShortTermMemory
	if mem == nil {
		mem = []*memory.MemoryItem{}
	}
	memJSON, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal short-term memory: %w", err)
	}
	key := s.metaKey(sessionID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"compressed", strconv.FormatBool(state.Compressed),
			"summary", state.Summary,
			"memory", string(memJSON),
			"updated_at", now.UTC().Format(time.RFC3339Nano))
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
			p.Expire(ctx, s.turnsKey(sessionID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.metaKey(sessionID), s.turnsKey(sessionID)).Err()
}
