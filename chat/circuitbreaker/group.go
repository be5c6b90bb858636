package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Group 管理一组按 agent id 懒加载的熔断器。
// 熔断状态随进程存活，由网关独占持有，不存在包级单例。
type Group struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewGroup 创建熔断器组，组内所有熔断器共享同一份配置。
func NewGroup(config *Config, logger *zap.Logger) *Group {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get 返回指定 agent 的熔断器，首次调用时懒创建。
func (g *Group) Get(agentID string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[agentID]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[agentID]; ok {
		return b
	}
	b = NewBreaker(agentID, g.config, g.logger)
	g.breakers[agentID] = b
	return b
}

// Do 对指定 agent 执行受保护的调用。
func (g *Group) Do(agentID string, fn func() error) error {
	return g.Get(agentID).Do(fn)
}

// States 返回所有已知 agent 的熔断状态快照。
func (g *Group) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]State, len(g.breakers))
	for id, b := range g.breakers {
		out[id] = b.State()
	}
	return out
}
