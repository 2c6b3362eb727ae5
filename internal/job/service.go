package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/selection"
	"OpenAgora/pkg/logger"
)

// SubmitRequest 描述买方提交的采购请求。
type SubmitRequest struct {
	ID         string             `json:"id,omitempty"`
	BuyerID    string             `json:"buyer_id"`
	Capability string             `json:"capability"`
	Payload    string             `json:"payload,omitempty"`
	Weights    *selection.Weights `json:"weights,omitempty"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的任务并推送到队列。重复提交同一 ID 返回已有任务。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if strings.TrimSpace(req.BuyerID) == "" {
		return nil, xerrors.New(CodeJobValidation, "买方 ID 不能为空")
	}
	if strings.TrimSpace(req.Capability) == "" {
		return nil, xerrors.New(CodeJobValidation, "能力名称不能为空")
	}
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return nil, err
		}
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	j := &Job{
		ID:         jobID,
		BuyerID:    strings.TrimSpace(req.BuyerID),
		Capability: strings.TrimSpace(req.Capability),
		Payload:    req.Payload,
		Weights:    cloneWeights(req.Weights),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, j); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, Envelope{
		JobID:      jobID,
		BuyerID:    j.BuyerID,
		Capability: j.Capability,
	}); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("buyer_id", j.BuyerID),
		slog.String("capability", j.Capability),
		slog.Int("max_retries", j.MaxRetries),
	)
	return j, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询任务状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Status == StatusSucceeded || j.Status == StatusFailed {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
