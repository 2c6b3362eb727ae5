package job

import (
	stdErrors "errors"

	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/selection"
)

// Status 表示采购任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次任务执行的结果。
type ExecutionResult struct {
	Artifact     string  `json:"artifact"`
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	PriceCharged float64 `json:"price_charged"`
	TotalCost    float64 `json:"total_cost"`
}

// Job 描述了排队执行的采购任务。
type Job struct {
	ID         string             `json:"id"`
	BuyerID    string             `json:"buyer_id"`
	Capability string             `json:"capability"`
	Payload    string             `json:"payload,omitempty"`
	Weights    *selection.Weights `json:"weights,omitempty"`
	Status     Status             `json:"status"`
	Attempts   int                `json:"attempts"`
	MaxRetries int                `json:"max_retries"`
	LastError  string             `json:"last_error,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Result     *ExecutionResult   `json:"result,omitempty"`
	CreatedAt  int64              `json:"created_at"`
	UpdatedAt  int64              `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:   "job not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:   "job conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:   "job already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:   "job retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:   "job validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsJobError 判断错误是否为指定错误码的统一任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeJobNotFound:
		return stdErrors.Is(err, ErrJobNotFound)
	case CodeJobConflict:
		return stdErrors.Is(err, ErrJobConflict)
	case CodeJobCompleted:
		return stdErrors.Is(err, ErrJobCompleted)
	case CodeJobExhausted:
		return stdErrors.Is(err, ErrJobExhausted)
	default:
		return false
	}
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneWeights(weights *selection.Weights) *selection.Weights {
	if weights == nil {
		return nil
	}
	cloned := *weights
	return &cloned
}
