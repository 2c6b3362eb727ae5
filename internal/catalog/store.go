package catalog

import "context"

// Registration 描述一次注册请求。
// Rating 仅供种子数据使用：为 0 时采用 DefaultRating。
type Registration struct {
	Name       string
	Capability string
	Price      float64
	Endpoint   string
	Rating     float64
}

// Store 是卖方智能体目录的权威存储。
// 同一 (name, capability) 只允许注册一次，重复注册返回 ErrAgentConflict。
// UpdateStats 必须按记录原子执行：同一智能体的并发结算不得交错读写。
type Store interface {
	Register(ctx context.Context, reg Registration) (*AgentRecord, error)
	Get(ctx context.Context, id string) (*AgentRecord, error)
	// ListByCapability 按注册顺序返回指定能力的所有智能体，无命中时返回空切片。
	ListByCapability(ctx context.Context, capability string) ([]*AgentRecord, error)
	// List 返回全部智能体快照，供状态工具与报表使用。
	List(ctx context.Context) ([]*AgentRecord, error)
	UpdateStats(ctx context.Context, id string, update StatsUpdate) (*AgentRecord, error)
	Close() error
}
