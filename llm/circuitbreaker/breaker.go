package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int
	// ResetTimeout 熔断恢复等待时间（Open → HalfOpen）
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下允许同时试探的请求数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调，在持有锁之外同步调用
	OnStateChange func(from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// ErrCircuitOpen 熔断打开或半开试探名额已满时返回（作为 PROVIDER_UNAVAILABLE 的 cause）
var ErrCircuitOpen = errors.New("circuit breaker open")

// Breaker 连续失败计数熔断器，并发安全
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	halfOpenBusy int
}

// New 创建熔断器；非正的配置项使用默认值
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		config: cfg,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("target", name)),
		now:    time.Now,
	}
}

// Do 经熔断器执行 fn
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// Allow 调用前检查；允许时调用方必须随后调用一次 Record
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var change func()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			b.mu.Unlock()
			return b.openError()
		}
		change = b.setState(StateHalfOpen)
		b.halfOpenBusy = 1
	case StateHalfOpen:
		if b.halfOpenBusy >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return b.openError()
		}
		b.halfOpenBusy++
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
	return nil
}

// Record 记录一次调用结果
func (b *Breaker) Record(err error) {
	failed := countsAsFailure(err)

	b.mu.Lock()
	var change func()
	switch b.state {
	case StateClosed:
		if !failed {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.config.Threshold {
			b.logger.Warn("circuit opened",
				zap.Int("failures", b.failures),
				zap.Error(err))
			b.openedAt = b.now()
			change = b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.halfOpenBusy--
		if failed {
			b.logger.Warn("half-open probe failed, circuit reopened", zap.Error(err))
			b.openedAt = b.now()
			change = b.setState(StateOpen)
		} else if err == nil {
			b.logger.Info("circuit closed")
			b.failures = 0
			b.halfOpenBusy = 0
			change = b.setState(StateClosed)
		}
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复为关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.halfOpenBusy = 0
	change := b.setState(StateClosed)
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// setState 须持有锁；返回需在锁外执行的回调
func (b *Breaker) setState(next State) func() {
	prev := b.state
	if prev == next {
		return nil
	}
	b.state = next
	if b.config.OnStateChange == nil {
		return nil
	}
	return func() { b.config.OnStateChange(prev, next) }
}

func (b *Breaker) openError() error {
	return types.NewProviderUnavailableError(b.name, ErrCircuitOpen)
}

// countsAsFailure 调用方取消与不可重试的结构化错误（如 4xx 请求错误）不计入失败
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	return true
}
