package context

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ragcore/config"
	"github.com/BaSui01/ragcore/memory"
	"github.com/BaSui01/ragcore/types"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type storeFactory struct {
	name string
	new  func(t *testing.T) SessionStore
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", new: func(*testing.T) SessionStore { return NewMemorySessionStore() }},
		{name: "redis", new: func(t *testing.T) SessionStore {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisSessionStore(rdb, time.Hour, zaptest.NewLogger(t))
		}},
	}
}

func newTestManager(t *testing.T, store SessionStore, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(store, cfg, zaptest.NewLogger(t), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	return m
}

func turn(role Role, content string, i int) Turn {
	return Turn{Role: role, Content: content, Timestamp: t0.Add(time.Duration(i) * time.Second)}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, Config{MaxTurns: 1}, nil)
	assert.True(t, types.IsConfigurationError(err))

	_, err = NewManager(NewMemorySessionStore(), Config{MaxTurns: 0}, nil)
	assert.True(t, types.IsConfigurationError(err))
}

func TestManager_GetContext(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, f.new(t), Config{MaxTurns: 3})

			_, _, err := m.GetContext(ctx, "missing", 0)
			assert.True(t, types.IsNotFound(err))

			conv, err := m.GetOrCreate(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "s1", conv.SessionID)
			assert.Empty(t, conv.Turns)

			for i := 0; i < 2; i++ {
				require.NoError(t, m.AppendTurn(ctx, "s1", turn(RoleUser, fmt.Sprintf("q%d", i), i)))
			}
			turns, compressed, err := m.GetContext(ctx, "s1", 0)
			require.NoError(t, err)
			assert.False(t, compressed)
			assert.Len(t, turns, 2)

			for i := 2; i < 5; i++ {
				require.NoError(t, m.AppendTurn(ctx, "s1", turn(RoleAssistant, fmt.Sprintf("a%d", i), i)))
			}
			turns, compressed, err = m.GetContext(ctx, "s1", 0)
			require.NoError(t, err)
			assert.True(t, compressed)
			require.Len(t, turns, 3)
			assert.Equal(t, "a2", turns[0].Content)
			assert.Equal(t, "a4", turns[2].Content)

			conv, err = m.Get(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, conv.Compressed)
			assert.Equal(t, "user: q0\nuser: q1", conv.Summary)

			turns, compressed, err = m.GetContext(ctx, "s1", 10)
			require.NoError(t, err)
			assert.False(t, compressed)
			assert.Len(t, turns, 5)
		})
	}
}

func TestManager_AppendCreatesSession(t *testing.T) {
	m := newTestManager(t, NewMemorySessionStore(), Config{MaxTurns: 5})
	ctx := context.Background()

	require.NoError(t, m.AppendTurn(ctx, "new", Turn{Role: RoleUser, Content: "hello"}))
	turns, _, err := m.GetContext(ctx, "new", 0)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, t0, turns[0].Timestamp)
}

func TestManager_AppendValidation(t *testing.T) {
	m := newTestManager(t, NewMemorySessionStore(), Config{MaxTurns: 5})
	ctx := context.Background()

	err := m.AppendTurn(ctx, "", Turn{Role: RoleUser, Content: "x"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	err = m.AppendTurn(ctx, "s", Turn{Role: "system", Content: "x"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestManager_MaxStoredTurns(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, f.new(t), Config{MaxTurns: 10, MaxStoredTurns: 4})
			for i := 0; i < 9; i++ {
				require.NoError(t, m.AppendTurn(ctx, "s", turn(RoleUser, fmt.Sprintf("m%d", i), i)))
			}
			conv, err := m.Get(ctx, "s")
			require.NoError(t, err)
			require.Len(t, conv.Turns, 4)
			assert.Equal(t, "m5", conv.Turns[0].Content)
			assert.Equal(t, "m8", conv.Turns[3].Content)
		})
	}
}

func TestManager_ConcurrentAppendsKeepPerSessionOrder(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, f.new(t), Config{MaxTurns: 100})

			const sessions, perSession = 4, 25
			var wg sync.WaitGroup
			for s := 0; s < sessions; s++ {
				wg.Add(1)
				go func(s int) {
					defer wg.Done()
					id := fmt.Sprintf("s%d", s)
					for i := 0; i < perSession; i++ {
						if err := m.AppendTurn(ctx, id, turn(RoleUser, fmt.Sprintf("%d", i), i)); err != nil {
							t.Errorf("append: %v", err)
							return
						}
					}
				}(s)
			}
			wg.Wait()

			for s := 0; s < sessions; s++ {
				turns, _, err := m.GetContext(ctx, fmt.Sprintf("s%d", s), 100)
				require.NoError(t, err)
				require.Len(t, turns, perSession)
				for i, tr := range turns {
					assert.Equal(t, fmt.Sprintf("%d", i), tr.Content)
				}
			}
			assert.Zero(t, m.lockCount())
		})
	}
}

func TestManager_DeleteReleasesSessionLock(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, NewMemorySessionStore(), Config{MaxTurns: 10})

	for i := range 50 {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, m.AppendTurn(ctx, id, turn(RoleUser, "hi", 0)))
		require.NoError(t, m.Delete(ctx, id))
	}
	assert.Zero(t, m.lockCount())

	_, err := m.Get(ctx, "s0")
	assert.True(t, types.IsNotFound(err))
}

func TestManager_RememberTop(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			scorer, err := memory.NewScorer(memory.Weights{Importance: 1}, time.Hour,
				memory.WithClock(func() time.Time { return t0 }))
			require.NoError(t, err)
			m, err := NewManager(f.new(t), Config{MaxTurns: 5, MemoryTopN: 2}, zaptest.NewLogger(t),
				WithScorer(scorer), WithClock(func() time.Time { return t0 }))
			require.NoError(t, err)

			_, err = m.RememberTop(ctx, "nobody", nil, nil)
			assert.True(t, types.IsNotFound(err))

			_, err = m.GetOrCreate(ctx, "s")
			require.NoError(t, err)
			items := []*memory.MemoryItem{
				{ID: "a", Content: "a", CreatedAt: t0.Add(-time.Hour), Importance: 2},
				{ID: "b", Content: "b", CreatedAt: t0.Add(-time.Hour), Importance: 8},
				{ID: "c", Content: "c", CreatedAt: t0.Add(-time.Hour), Importance: 5},
			}
			top, err := m.RememberTop(ctx, "s", items, nil)
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, "b", top[0].ID)
			assert.Equal(t, "c", top[1].ID)
			assert.Equal(t, t0, top[0].LastAccessed)

			conv, err := m.Get(ctx, "s")
			require.NoError(t, err)
			require.Len(t, conv.ShortTermMemory, 2)
			assert.Equal(t, "b", conv.ShortTermMemory[0].ID)
		})
	}
}

func TestDigest_ClipsLongTurns(t *testing.T) {
	long := strings.Repeat("长", 150)
	d := Digest([]Turn{{Role: RoleUser, Content: long}, {Role: RoleAssistant, Content: " short "}})
	lines := strings.Split(d, "\n")
	require.Len(t, lines, 2)
	body := strings.TrimPrefix(lines[0], "user: ")
	assert.Equal(t, 100, len([]rune(body)))
	assert.True(t, strings.HasSuffix(body, "..."))
	assert.Equal(t, "assistant: short", lines[1])
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	m, err := NewManagerFromConfig(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, m)

	cfg.Context.Store = "redis"
	_, err = NewManagerFromConfig(cfg, nil, nil)
	assert.True(t, types.IsConfigurationError(err))

	cfg.Context.Store = "etcd"
	_, err = NewManagerFromConfig(cfg, nil, nil)
	assert.True(t, types.IsConfigurationError(err))

	cfg.Context.Store = "memory"
	cfg.Memory.NewnessWeight = -1
	_, err = NewManagerFromConfig(cfg, nil, nil)
	assert.True(t, types.IsConfigurationError(err))
}

func TestRedisSessionStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisSessionStore(rdb, time.Minute, nil)
	ctx := context.Background()

	_, err := store.Create(ctx, "s", t0)
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, "s", turn(RoleUser, "hi", 0), 0))
	assert.Equal(t, time.Minute, mr.TTL(defaultSessionKeyPrefix+"s:meta"))
	assert.Equal(t, time.Minute, mr.TTL(defaultSessionKeyPrefix+"s:turns"))

	// SetState 同时续期两个键
	mr.FastForward(40 * time.Second)
	require.NoError(t, store.SetState(ctx, "s", State{Summary: "greeting"}, t0.Add(time.Minute)))
	assert.Equal(t, time.Minute, mr.TTL(defaultSessionKeyPrefix+"s:meta"))
	assert.Equal(t, time.Minute, mr.TTL(defaultSessionKeyPrefix+"s:turns"))

	mr.FastForward(50 * time.Second)
	conv, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, conv.Turns, 1)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "s")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = store.AppendTurn(ctx, "s", turn(RoleUser, "late", 1), 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
