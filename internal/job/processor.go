package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/observability/alerting"
	"OpenAgora/internal/orchestrator"
	"OpenAgora/pkg/logger"
)

// Executor 定义了处理器所需的编排能力。
type Executor interface {
	ExecuteJob(ctx context.Context, spec orchestrator.JobSpec) (*orchestrator.Outcome, error)
}

// Processor 负责从队列消费任务并交给编排引擎执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 处理单条队列消息。队列消费回调直接指向此方法。
func (p *Processor) Handle(ctx context.Context, msg Envelope) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	j, err := p.store.Claim(ctx, msg.JobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logDebug("跳过任务",
				slog.String("job_id", msg.JobID),
				slog.String("buyer_id", msg.BuyerID),
				slog.String("capability", msg.Capability),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", msg.JobID))
		p.emitAlert(ctx, &Job{ID: msg.JobID, BuyerID: msg.BuyerID, Capability: msg.Capability}, CodeJobProcessing, err, "claim")
		return err
	}

	outcome, execErr := p.executor.ExecuteJob(ctx, orchestrator.JobSpec{
		BuyerID:    j.BuyerID,
		Capability: j.Capability,
		Payload:    j.Payload,
		Weights:    cloneWeights(j.Weights),
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, j, execErr)
	}

	if !outcome.Success {
		// 业务性失败已在编排引擎内完成失败结算，任务直接终结，不再重投。
		return p.handleMarketFailure(ctx, j, outcome)
	}

	record := ExecutionResult{
		Artifact:     outcome.Artifact,
		SellerID:     outcome.SellerID,
		SellerName:   outcome.SellerName,
		PriceCharged: outcome.PriceIncurred,
		TotalCost:    outcome.TotalCostIncurred,
	}
	if err := p.store.MarkSucceeded(ctx, j.ID, record); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", j.ID))
		if storeErr := p.store.MarkFailed(ctx, j.ID, CodeJobProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", j.ID))
			return storeErr
		}
		return nil
	}
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", j.ID),
		slog.String("buyer_id", j.BuyerID),
		slog.String("capability", j.Capability),
		slog.String("seller", record.SellerName),
		slog.Float64("price", record.PriceCharged),
	)
	return nil
}

// handleMarketFailure 落账业务性失败：无候选、派发失败、产物校验失败。
// 交易已经结算，任务标记为终态失败。
func (p *Processor) handleMarketFailure(ctx context.Context, j *Job, outcome *orchestrator.Outcome) error {
	code := xerrors.Code(outcome.ErrorCode)
	if code == "" {
		code = CodeJobProcessing
	}
	if storeErr := p.store.MarkFailed(ctx, j.ID, code, outcome.FailureReason, true); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", j.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", j.ID),
		slog.String("buyer_id", j.BuyerID),
		slog.String("capability", j.Capability),
		slog.String("seller", outcome.SellerName),
		slog.String("error", outcome.FailureReason),
		slog.String("error_code", string(code)),
	)
	p.emitAlert(ctx, j, code, stdErrors.New(outcome.FailureReason), "terminal")
	return nil
}

// handleExecutionFailure 处理系统性失败：存储、托管或配置问题。
// 可重试的错误在尝试次数内重新入队。
func (p *Processor) handleExecutionFailure(ctx context.Context, j *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := j.Attempts >= j.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, j.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", j.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行异常",
		slog.String("job_id", j.ID),
		slog.String("buyer_id", j.BuyerID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", j.Attempts),
		slog.Int("max_retries", j.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, j, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, Envelope{
			JobID:      j.ID,
			BuyerID:    j.BuyerID,
			Capability: j.Capability,
			Attempt:    j.Attempts,
		}); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", j.ID))
		}
		p.logDebug("任务已重新排队", slog.String("job_id", j.ID), slog.Int("attempts", j.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, j *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || j == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      j.ID,
		BuyerID:    j.BuyerID,
		Capability: j.Capability,
		Attempts:   j.Attempts,
		MaxRetries: j.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", j.ID),
			slog.String("stage", stage),
		)
	}
}
