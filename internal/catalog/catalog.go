package catalog

import (
	xerrors "OpenAgora/internal/errors"
)

const (
	// DefaultRating 是新注册智能体的初始评分。
	DefaultRating = 5.0
	// RatingCeil 与 RatingFloor 限定评分的取值范围。
	RatingCeil  = 5.0
	RatingFloor = 0.0
	// DefaultLatency 是尚无历史样本的智能体的中性延迟估计（秒）。
	DefaultLatency = 0.5

	// successNudge 在结算成功时小幅上调评分。
	successNudge = 0.05
	// failurePenalty 在结算失败时固定下调评分。
	failurePenalty = 0.1
	// latencyAlpha 是平均延迟指数滑动平均的采样权重。
	latencyAlpha = 0.3
)

// AgentRecord 描述一个已注册的卖方智能体及其滚动统计。
type AgentRecord struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Capability     string  `json:"capability"`
	Price          float64 `json:"price"`
	Endpoint       string  `json:"endpoint"`
	Rating         float64 `json:"rating"`
	TotalJobs      int     `json:"total_jobs"`
	SuccessfulJobs int     `json:"successful_jobs"`
	TotalEarned    float64 `json:"total_earned"`
	AverageLatency float64 `json:"average_latency"`
	RegisteredAt   int64   `json:"registered_at"`
}

// SuccessRate 返回成功率（0-100）。无历史任务时视为 100。
func (a *AgentRecord) SuccessRate() float64 {
	if a == nil || a.TotalJobs == 0 {
		return 100.0
	}
	return float64(a.SuccessfulJobs) / float64(a.TotalJobs) * 100.0
}

// StatsUpdate 描述一次结算对智能体统计的影响。
type StatsUpdate struct {
	Success       bool
	Earned        float64
	LatencySample float64
}

var (
	// ErrAgentConflict 表示同名同能力的智能体已经注册。
	ErrAgentConflict = xerrors.New(CodeAgentConflict, "agent already registered")
	// ErrAgentNotFound 表示指定的智能体不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
)

const (
	CodeAgentConflict Code = "AGENT_CONFLICT"
	CodeAgentNotFound Code = "AGENT_NOT_FOUND"
)

// Code 是目录模块错误码的别名，便于在包外引用。
type Code = xerrors.Code

func init() {
	xerrors.Register(CodeAgentConflict, xerrors.Attributes{
		Message:   "agent already registered",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "agent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// applyUpdate 将一次结算的效果套用到记录上，评分始终保持在界内。
func applyUpdate(agent *AgentRecord, update StatsUpdate) {
	agent.TotalJobs++
	if update.Success {
		agent.SuccessfulJobs++
		agent.TotalEarned += update.Earned
		agent.Rating = clampRating(agent.Rating + successNudge)
	} else {
		agent.Rating = clampRating(agent.Rating - failurePenalty)
	}
	if update.LatencySample > 0 {
		if agent.AverageLatency <= 0 {
			agent.AverageLatency = update.LatencySample
		} else {
			agent.AverageLatency = (1-latencyAlpha)*agent.AverageLatency + latencyAlpha*update.LatencySample
		}
	}
}

func initialRating(rating float64) float64 {
	if rating <= 0 {
		return DefaultRating
	}
	return clampRating(rating)
}

func clampRating(rating float64) float64 {
	if rating > RatingCeil {
		return RatingCeil
	}
	if rating < RatingFloor {
		return RatingFloor
	}
	return rating
}
