package context

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/memory"
	"github.com/BaSui01/ragcore/types"
)

// summaryClip 摘要中每轮内容的最大字符数
const summaryClip = 100

// Config 上下文管理配置
type Config struct {
	// MaxTurns 超过该轮数时 GetContext 返回压缩视图
	MaxTurns int
	// MaxStoredTurns 存储保留的最大轮数，0 表示不限制
	MaxStoredTurns int
	// MemoryTopN RememberTop 保留的短期记忆条数
	MemoryTopN int
}

// Manager 会话上下文管理器。同一会话的写操作按提交顺序串行执行，
// 不同会话互不阻塞。
type Manager struct {
	store  SessionStore
	config Config
	scorer *memory.Scorer
	now    func() time.Time
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock 会话写锁；refs 为持有或等待者数量，归零时从表中移除
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithScorer 设置记忆评分器（RememberTop 需要）
func WithScorer(s *memory.Scorer) ManagerOption {
	return func(m *Manager) { m.scorer = s }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建上下文管理器
func NewManager(store SessionStore, cfg Config, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, types.NewConfigurationError("context manager requires a session store")
	}
	if cfg.MaxTurns <= 0 {
		return nil, types.NewConfigurationError("context max_turns must be positive, got %d", cfg.MaxTurns)
	}
	if cfg.MaxStoredTurns < 0 {
		return nil, types.NewConfigurationError("context max_stored_turns must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		config: cfg,
		now:    time.Now,
		logger: logger.With(zap.String("component", "context_manager")),
		locks:  make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewManagerFromConfig 按 context.* 与 memory.* 创建管理器；store=redis 时需要 rdb
func NewManagerFromConfig(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, types.NewConfigurationError("config is nil")
	}
	var store SessionStore
	switch cfg.Context.Store {
	case "memory", "":
		store = NewMemorySessionStore()
	case "redis":
		if rdb == nil {
			return nil, types.NewConfigurationError("context.store=redis requires a redis client")
		}
		store = NewRedisSessionStore(rdb, cfg.Context.SessionTTL, logger)
	default:
		return nil, types.NewConfigurationError("unsupported context store %q", cfg.Context.Store)
	}
	scorer, err := memory.NewScorerFromConfig(cfg.Memory)
	if err != nil {
		return nil, err
	}
	return NewManager(store, Config{
		MaxTurns:       cfg.Context.MaxTurns,
		MaxStoredTurns: cfg.Context.MaxStoredTurns,
		MemoryTopN:     cfg.Memory.TopN,
	}, logger, WithScorer(scorer))
}

func (m *Manager) lock(sessionID string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.locksMu.Unlock()
	}
}

func (m *Manager) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}

func validSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return types.NewError(types.ErrInvalidRequest, "session id must not be empty")
	}
	return nil
}

// GetOrCreate 获取会话，不存在时创建
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*Conversation, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	return m.store.Create(ctx, sessionID, m.now())
}

// AppendTurn 追加一轮对话；会话不存在时先创建
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if !turn.Role.Valid() {
		return types.NewError(types.ErrInvalidRequest, "turn role must be user or assistant")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}

	unlock := m.lock(sessionID)
	defer unlock()

	err := m.store.AppendTurn(ctx, sessionID, turn, m.config.MaxStoredTurns)
	if errors.Is(err, ErrSessionNotFound) {
		if _, err = m.store.Create(ctx, sessionID, turn.Timestamp); err != nil {
			return err
		}
		err = m.store.AppendTurn(ctx, sessionID, turn, m.config.MaxStoredTurns)
	}
	if err != nil {
		m.logger.Error("append turn failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// GetContext 返回最近的轮次。轮数超过 maxTurns（<= 0 时使用配置值）时只返回
// 最近 maxTurns 轮并标记 compressed，同时把被丢弃轮次的摘录写入 Summary。
func (m *Manager) GetContext(ctx context.Context, sessionID string, maxTurns int) ([]Turn, bool, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, false, err
	}
	if maxTurns <= 0 {
		maxTurns = m.config.MaxTurns
	}

	unlock := m.lock(sessionID)
	defer unlock()

	conv, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, false, types.NewNotFoundError("session", sessionID)
		}
		return nil, false, err
	}
	if len(conv.Turns) <= maxTurns {
		if conv.Compressed {
			err = m.store.SetState(ctx, sessionID, State{ShortTermMemory: conv.ShortTermMemory}, m.now())
		}
		return conv.Turns, false, err
	}

	cut := len(conv.Turns) - maxTurns
	summary := Digest(conv.Turns[:cut])
	if summary != conv.Summary || !conv.Compressed {
		err = m.store.SetState(ctx, sessionID, State{
			Compressed:      true,
			Summary:         summary,
			ShortTermMemory: conv.ShortTermMemory,
		}, m.now())
		if err != nil {
			return nil, false, err
		}
	}
	m.logger.Debug("context compressed",
		zap.String("session_id", sessionID),
		zap.Int("turns", len(conv.Turns)),
		zap.Int("kept", maxTurns))
	return conv.Turns[cut:], true, nil
}

// Get 返回完整会话
func (m *Manager) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	conv, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, types.NewNotFoundError("session", sessionID)
	}
	return conv, err
}

// Delete 删除会话
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	unlock := m.lock(sessionID)
	defer unlock()
	return m.store.Delete(ctx, sessionID)
}

// RememberTop 用记忆评分器从候选中选出前 N 条作为会话短期记忆，
// 并更新其访问时间
func (m *Manager) RememberTop(ctx context.Context, sessionID string, items []*memory.MemoryItem, query []float64) ([]*memory.MemoryItem, error) {
	if m.scorer == nil {
		return nil, types.NewConfigurationError("context manager has no memory scorer")
	}
	n := m.config.MemoryTopN
	if n <= 0 {
		n = len(items)
	}

	unlock := m.lock(sessionID)
	defer unlock()

	conv, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, types.NewNotFoundError("session", sessionID)
		}
		return nil, err
	}
	top := m.scorer.TopN(items, query, n)
	for _, it := range top {
		m.scorer.Touch(it)
	}
	err = m.store.SetState(ctx, sessionID, State{
		Compressed:      conv.Compressed,
		Summary:         conv.Summary,
		ShortTermMemory: top,
	}, m.now())
	if err != nil {
		return nil, err
	}
	return top, nil
}

// Digest 生成轮次摘录：每轮一行 "role: content"，内容超过 100 字符时截断
func Digest(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(clip(strings.TrimSpace(t.Content), summaryClip))
	}
	return b.String()
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
