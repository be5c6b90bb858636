// Package circuitbreaker 提供按 agent 维度的熔断保护，
// 防止持续失败的上游拖垮整个网关。
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，快速失败）
	StateOpen
	// StateHalfOpen 半开状态（冷却结束后试探性放行）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// ErrCircuitOpen 熔断器打开时的快速失败错误，不发起任何网络请求。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config 熔断器配置
type Config struct {
	// FailureThreshold 连续失败次数阈值（Closed -> Open）
	FailureThreshold int

	// Cooldown 熔断冷却时间（Open -> HalfOpen 的等待窗口）
	Cooldown time.Duration

	// SuccessThreshold 半开状态下连续成功次数（HalfOpen -> Closed）
	SuccessThreshold int

	// OnStateChange 状态变更回调（用于指标上报）
	OnStateChange func(agentID string, from, to State)
}

// DefaultConfig 返回默认配置：连续 5 次失败熔断，冷却 60s，
// 半开后连续 2 次成功恢复。
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c *Config) normalize() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
}

// Breaker 单个 agent 的熔断器。
// 状态转换单调：Closed 成功清零失败计数；Closed 失败累加，达到阈值转 Open；
// Open 仅在冷却结束后转 HalfOpen，绝不直接回 Closed；
// HalfOpen 连续成功 SuccessThreshold 次后转 Closed，任一失败立即回 Open 并重新计时。
type Breaker struct {
	agentID string
	config  *Config
	logger  *zap.Logger
	now     func() time.Time

	mu               sync.Mutex
	state            State
	failureCount     int       // 连续失败次数
	lastFailureTime  time.Time // 最后一次失败时间（冷却计时起点）
	halfOpenSuccess  int       // 半开状态下的连续成功次数
}

// NewBreaker 创建单个 agent 的熔断器。
func NewBreaker(agentID string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		agentID: agentID,
		config:  config,
		logger:  logger.With(zap.String("agent_id", agentID)),
		now:     time.Now,
		state:   StateClosed,
	}
}

// Allow 调用前检查。返回 ErrCircuitOpen 表示熔断中，调用方必须快速失败。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		// 冷却结束后进入半开状态试探
		if b.now().Sub(b.lastFailureTime) >= b.config.Cooldown {
			b.setState(StateHalfOpen)
			b.halfOpenSuccess = 0
			b.logger.Info("circuit breaker half-open, admitting trial calls")
			return nil
		}
		return ErrCircuitOpen

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess 上报一次传输成功。
// 注意：携带厂商应用错误的 2xx 响应也算传输成功（见网关层的失败判定）。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.config.SuccessThreshold {
			b.logger.Info("circuit breaker recovered",
				zap.Int("trial_successes", b.halfOpenSuccess),
			)
			b.setState(StateClosed)
			b.failureCount = 0
			b.halfOpenSuccess = 0
		}

	case StateOpen:
		// 打开状态不应有在途调用
		b.logger.Warn("success reported while circuit open")
	}
}

// RecordFailure 上报一次传输失败。
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// 半开试探失败，重新熔断并重新计时冷却
		b.logger.Warn("trial call failed, circuit re-opened")
		b.setState(StateOpen)
		b.halfOpenSuccess = 0

	case StateOpen:
		b.logger.Warn("failure reported while circuit open")
	}
}

// Do 执行受保护的调用。fn 返回的任何非 nil 错误都计为失败；
// 需要区分应用错误与传输错误的调用方应使用 Allow/RecordSuccess/RecordFailure。
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 返回当前计数快照（用于指标与调试）。
func (b *Breaker) Snapshot() (state State, failures int, trialSuccesses int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failureCount, b.halfOpenSuccess
}

// Reset 手动恢复到关闭状态。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenSuccess = 0
	if old != StateClosed {
		b.logger.Info("circuit breaker reset", zap.String("from_state", old.String()))
		b.notify(old, StateClosed)
	}
}

// setState 切换状态并触发回调，调用方需持有锁。
func (b *Breaker) setState(newState State) {
	old := b.state
	b.state = newState
	b.notify(old, newState)
}

func (b *Breaker) notify(from, to State) {
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.agentID, from, to)
	}
}
