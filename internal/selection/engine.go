package selection

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"OpenAgora/internal/catalog"
	xerrors "OpenAgora/internal/errors"
)

// CandidateSource 是引擎所依赖的目录读取能力。
type CandidateSource interface {
	ListByCapability(ctx context.Context, capability string) ([]*catalog.AgentRecord, error)
}

// Engine 在候选卖方之间执行温度控制的加权抽签。
// 只读组件：Select 不修改目录状态。
type Engine struct {
	source CandidateSource

	mu  sync.Mutex
	rng *rand.Rand
}

// Option 定义可选配置。
type Option func(*Engine)

// WithRandSource 注入随机源，测试中用固定种子取得确定性。
func WithRandSource(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// NewEngine 构造选择引擎。
func NewEngine(source CandidateSource, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Select 为指定能力选出一个卖方。
func (e *Engine) Select(ctx context.Context, capability string, weights Weights) (*catalog.AgentRecord, error) {
	if e == nil || e.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "选择引擎未初始化")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	candidates, err := e.source.ListByCapability(ctx, capability)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if len(candidates) == 1 {
		clone := *candidates[0]
		return &clone, nil
	}

	probabilities := distribution(candidates, weights)

	e.mu.Lock()
	draw := e.rng.Float64()
	e.mu.Unlock()

	// 将 [0,1) 的均匀抽样映射到候选顺序上的累积分布。
	cumulative := 0.0
	chosen := candidates[len(candidates)-1]
	for i, p := range probabilities {
		cumulative += p
		if draw < cumulative {
			chosen = candidates[i]
			break
		}
	}
	clone := *chosen
	return &clone, nil
}

// distribution 计算候选集上的 softmax 选择概率。
// 三个评分项各自归一到 [0,1]，避免量纲差异压过配置的权重。
func distribution(candidates []*catalog.AgentRecord, weights Weights) []float64 {
	scores := scoreCandidates(candidates, weights)

	// 先减去最大分再取指数，防止溢出。
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	expScores := make([]float64, len(scores))
	totalExp := 0.0
	for i, s := range scores {
		expScores[i] = math.Exp((s - maxScore) / weights.Temperature)
		totalExp += expScores[i]
	}

	probabilities := make([]float64, len(scores))
	if totalExp == 0 {
		uniform := 1.0 / float64(len(scores))
		for i := range probabilities {
			probabilities[i] = uniform
		}
		return probabilities
	}
	for i := range probabilities {
		probabilities[i] = expScores[i] / totalExp
	}
	return probabilities
}

func scoreCandidates(candidates []*catalog.AgentRecord, weights Weights) []float64 {
	maxPrice := 0.0
	maxLatency := 0.0
	for _, agent := range candidates {
		if agent.Price > maxPrice {
			maxPrice = agent.Price
		}
		if latency := effectiveLatency(agent); latency > maxLatency {
			maxLatency = latency
		}
	}

	scores := make([]float64, len(candidates))
	for i, agent := range candidates {
		priceTerm := 0.0
		if maxPrice > 0 {
			priceTerm = (maxPrice - agent.Price) / maxPrice
		}
		qualityTerm := agent.Rating / catalog.RatingCeil
		speedTerm := 0.0
		if maxLatency > 0 {
			speedTerm = (maxLatency - effectiveLatency(agent)) / maxLatency
		}
		scores[i] = weights.Price*priceTerm + weights.Quality*qualityTerm + weights.Speed*speedTerm
	}
	return scores
}

// effectiveLatency 为没有历史样本的智能体提供中性延迟估计。
func effectiveLatency(agent *catalog.AgentRecord) float64 {
	if agent.AverageLatency <= 0 {
		return catalog.DefaultLatency
	}
	return agent.AverageLatency
}
