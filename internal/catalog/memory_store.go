package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "OpenAgora/internal/errors"
)

// MemoryStore 以内存方式保存智能体目录，读路径返回克隆以避免撕裂读。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*AgentRecord
	// order 记录注册顺序，ListByCapability 依赖它保证稳定输出。
	order []string
	// index 以 (name, capability) 为键去重。
	index map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*AgentRecord),
		index:  make(map[string]string),
	}
}

// Register 实现 Store 接口。
func (m *MemoryStore) Register(_ context.Context, reg Registration) (*AgentRecord, error) {
	name := strings.TrimSpace(reg.Name)
	capability := strings.TrimSpace(reg.Capability)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体名称不能为空")
	}
	if capability == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体能力不能为空")
	}
	if reg.Price < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "价格不能为负数")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey(name, capability)
	if _, ok := m.index[key]; ok {
		return nil, ErrAgentConflict
	}
	agent := &AgentRecord{
		ID:             uuid.NewString(),
		Name:           name,
		Capability:     capability,
		Price:          reg.Price,
		Endpoint:       reg.Endpoint,
		Rating:         initialRating(reg.Rating),
		AverageLatency: DefaultLatency,
		RegisteredAt:   time.Now().Unix(),
	}
	m.agents[agent.ID] = agent
	m.order = append(m.order, agent.ID)
	m.index[key] = agent.ID
	clone := *agent
	return &clone, nil
}

// Get 返回智能体快照。
func (m *MemoryStore) Get(_ context.Context, id string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	clone := *agent
	return &clone, nil
}

// ListByCapability 按注册顺序返回指定能力的智能体快照。
func (m *MemoryStore) ListByCapability(_ context.Context, capability string) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*AgentRecord, 0, 4)
	for _, id := range m.order {
		agent := m.agents[id]
		if agent.Capability != capability {
			continue
		}
		clone := *agent
		results = append(results, &clone)
	}
	return results, nil
}

// List 按注册顺序返回全部智能体快照。
func (m *MemoryStore) List(_ context.Context) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*AgentRecord, 0, len(m.order))
	for _, id := range m.order {
		clone := *m.agents[id]
		results = append(results, &clone)
	}
	return results, nil
}

// UpdateStats 原子地应用一次结算的统计效果。
func (m *MemoryStore) UpdateStats(_ context.Context, id string, update StatsUpdate) (*AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	applyUpdate(agent, update)
	clone := *agent
	return &clone, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func identityKey(name, capability string) string {
	return name + "\x00" + capability
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
