package orchestrator

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/escrow"
	"OpenAgora/internal/selection"
	"OpenAgora/pkg/logger"
)

// JobSpec 描述一个待执行的采购任务。
type JobSpec struct {
	BuyerID    string
	Capability string
	Payload    any
	// Weights 为空时采用引擎的缺省权重。
	Weights *selection.Weights
}

// Outcome 汇总一次任务的最终结果。业务性失败（无候选、派发失败、
// 校验失败）体现在 Success=false，而不是错误返回。
type Outcome struct {
	Success  bool    `json:"success"`
	Artifact string  `json:"artifact,omitempty"`
	// PriceIncurred 是本次任务实际支付的金额，失败时为 0。
	PriceIncurred float64 `json:"price_incurred"`
	// TotalCostIncurred 是该买方历次成功任务的累计支出。
	TotalCostIncurred float64 `json:"total_cost_incurred"`
	SellerID          string  `json:"seller_id,omitempty"`
	SellerName        string  `json:"seller_name,omitempty"`
	FailureReason     string  `json:"failure_reason,omitempty"`
	ErrorCode         string  `json:"error_code,omitempty"`
}

// Engine 驱动单个任务端到端：选择卖方、开立托管、派发、校验、结算。
type Engine struct {
	selector   *selection.Engine
	escrow     *escrow.Manager
	dispatcher Dispatcher
	validators map[string]Validator

	defaultWeights  selection.Weights
	dispatchTimeout time.Duration
	log             *slog.Logger

	costMu sync.Mutex
	costs  map[string]float64
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithDispatchTimeout 设置对卖方调用的超时时间，用于限定派发状态的存续。
func WithDispatchTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.dispatchTimeout = timeout
		}
	}
}

// WithValidator 注册能力专属校验器。
func WithValidator(capability string, validator Validator) EngineOption {
	return func(e *Engine) {
		if capability != "" && validator != nil {
			e.validators[capability] = validator
		}
	}
}

// WithDefaultWeights 设置缺省选择权重。
func WithDefaultWeights(weights selection.Weights) EngineOption {
	return func(e *Engine) {
		e.defaultWeights = weights
	}
}

// WithEngineLogger 指定日志输出。
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine 构造编排引擎。校验器映射在构造时注入，
// 而不是在执行路径上按能力字符串分支。
func NewEngine(selector *selection.Engine, escrowManager *escrow.Manager, dispatcher Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		selector:        selector,
		escrow:          escrowManager,
		dispatcher:      dispatcher,
		validators:      DefaultValidators(),
		defaultWeights:  selection.DefaultWeights(),
		dispatchTimeout: defaultDispatchTimeout,
		log:             logger.Named("orchestrator"),
		costs:           make(map[string]float64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// TotalCost 返回买方历次成功任务的累计支出。
func (e *Engine) TotalCost(buyerID string) float64 {
	e.costMu.Lock()
	defer e.costMu.Unlock()
	return e.costs[buyerID]
}

// ExecuteJob 执行一个任务。返回错误仅表示调用方的配置或系统故障
// （非法权重、存储失败等）；业务性失败通过 Outcome 表达，
// 且保证已经完成失败结算与账本落账。
func (e *Engine) ExecuteJob(ctx context.Context, spec JobSpec) (*Outcome, error) {
	weights := e.defaultWeights
	if spec.Weights != nil {
		weights = *spec.Weights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	seller, err := e.selector.Select(ctx, spec.Capability, weights)
	if err != nil {
		if stdErrors.Is(err, selection.ErrNoCandidates) {
			return e.failureOutcome(spec.BuyerID, "", "", err), nil
		}
		return nil, err
	}

	hold, err := e.escrow.Open(ctx, spec.BuyerID, seller, seller.Price)
	if err != nil {
		return nil, err
	}
	if err := e.escrow.MarkDispatched(hold); err != nil {
		return nil, err
	}

	// 从这里开始，托管必须恰好结算一次：任何失败路径都走失败结算。
	dispatchCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	started := time.Now()
	result, dispatchErr := e.dispatcher.Dispatch(dispatchCtx, seller.Endpoint, spec.Payload)
	cancel()
	observedLatency := time.Since(started).Seconds()

	if dispatchErr != nil {
		if _, settleErr := e.escrow.Settle(ctx, hold, escrow.Settlement{
			Success:       false,
			LatencySample: observedLatency,
		}); settleErr != nil {
			return nil, settleErr
		}
		e.log.Warn("任务派发失败",
			slog.String("buyer_id", spec.BuyerID),
			slog.String("seller", seller.Name),
			slog.String("error", dispatchErr.Error()),
		)
		return e.failureOutcome(spec.BuyerID, seller.ID, seller.Name, dispatchErr), nil
	}

	latency := result.ReportedLatency
	if latency <= 0 {
		latency = observedLatency
	}

	if validator, ok := e.validators[spec.Capability]; ok {
		if validationErr := validator(result.Result); validationErr != nil {
			if _, settleErr := e.escrow.Settle(ctx, hold, escrow.Settlement{
				Success:       false,
				LatencySample: latency,
			}); settleErr != nil {
				return nil, settleErr
			}
			e.log.Info("产物校验失败",
				slog.String("buyer_id", spec.BuyerID),
				slog.String("seller", seller.Name),
				slog.String("error", validationErr.Error()),
			)
			return e.failureOutcome(spec.BuyerID, seller.ID, seller.Name, validationErr), nil
		}
	}

	if _, err := e.escrow.Settle(ctx, hold, escrow.Settlement{
		Success:       true,
		Price:         seller.Price,
		LatencySample: latency,
	}); err != nil {
		return nil, err
	}

	total := e.addCost(spec.BuyerID, seller.Price)
	return &Outcome{
		Success:           true,
		Artifact:          result.Result,
		PriceIncurred:     seller.Price,
		TotalCostIncurred: total,
		SellerID:          seller.ID,
		SellerName:        seller.Name,
	}, nil
}

func (e *Engine) addCost(buyerID string, price float64) float64 {
	e.costMu.Lock()
	defer e.costMu.Unlock()
	e.costs[buyerID] += price
	return e.costs[buyerID]
}

func (e *Engine) failureOutcome(buyerID, sellerID, sellerName string, cause error) *Outcome {
	outcome := &Outcome{
		Success:           false,
		PriceIncurred:     0,
		TotalCostIncurred: e.TotalCost(buyerID),
		SellerID:          sellerID,
		SellerName:        sellerName,
	}
	if cause != nil {
		outcome.FailureReason = cause.Error()
		if unified, ok := xerrors.From(cause); ok {
			outcome.ErrorCode = string(unified.Code())
		}
	}
	return outcome
}
