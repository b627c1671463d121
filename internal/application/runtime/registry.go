package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// Factory builds a strategy on first use
type Factory func() (port.Strategy, error)

type registration struct {
	mu       sync.Mutex
	factory  Factory
	strategy port.Strategy
}

// Registry maps agent types to strategies. Lazily registered strategies are
// constructed the first time they are resolved, so a worker never pays for
// dependencies of agent types it does not run.
type Registry struct {
	entries map[entity.AgentType]*registration
	mutex   sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[entity.AgentType]*registration),
	}
}

// Register adds a ready strategy, replacing any previous registration
func (r *Registry) Register(agentType entity.AgentType, strategy port.Strategy) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries[agentType] = &registration{strategy: strategy}
}

// RegisterLazy adds a strategy built by factory on first Resolve
func (r *Registry) RegisterLazy(agentType entity.AgentType, factory Factory) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries[agentType] = &registration{factory: factory}
}

// Resolve implements port.StrategyResolver. A failed factory is retried on
// the next call.
func (r *Registry) Resolve(agentType entity.AgentType) (port.Strategy, error) {
	r.mutex.RLock()
	reg, ok := r.entries[agentType]
	r.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownAgentType, agentType)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.strategy != nil {
		return reg.strategy, nil
	}

	strategy, err := reg.factory()
	if err != nil {
		return nil, fmt.Errorf("build strategy %s: %w", agentType, err)
	}
	if strategy == nil {
		return nil, fmt.Errorf("build strategy %s: factory returned nil", agentType)
	}
	reg.strategy = strategy
	return strategy, nil
}

// Has reports whether the agent type is registered
func (r *Registry) Has(agentType entity.AgentType) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.entries[agentType]
	return ok
}

// Types lists registered agent types in sorted order
func (r *Registry) Types() []entity.AgentType {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	types := make([]entity.AgentType, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

var _ port.StrategyResolver = (*Registry)(nil)
