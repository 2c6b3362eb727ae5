package orchestrator

import (
	"fmt"
	"strings"

	xerrors "OpenAgora/internal/errors"
)

// Validator 按能力校验卖方返回的产物。返回非 nil 错误表示校验失败，
// 该次雇佣按失败结算。
type Validator func(artifact string) error

var (
	// ErrValidationFailed 表示产物未通过能力专属校验。
	ErrValidationFailed = xerrors.New(CodeValidationFailed, "result validation failed")
)

const CodeValidationFailed xerrors.Code = "VALIDATION_FAILED"

func init() {
	xerrors.Register(CodeValidationFailed, xerrors.Attributes{
		Message:   "result validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// SummaryValidator 校验文本摘要：非空且达到最小长度。
func SummaryValidator(minLength int) Validator {
	if minLength <= 0 {
		minLength = 10
	}
	return func(artifact string) error {
		trimmed := strings.TrimSpace(artifact)
		if trimmed == "" {
			return xerrors.Wrap(CodeValidationFailed, nil, "摘要为空")
		}
		if len(trimmed) < minLength {
			return xerrors.Wrap(CodeValidationFailed, nil,
				fmt.Sprintf("摘要过短: %d < %d", len(trimmed), minLength))
		}
		return nil
	}
}

// ChartValidator 校验图表产物：应当是足够长的 base64 文本。
func ChartValidator(minLength int) Validator {
	if minLength <= 0 {
		minLength = 100
	}
	return func(artifact string) error {
		if artifact == "" {
			return xerrors.Wrap(CodeValidationFailed, nil, "图表产物为空")
		}
		if len(artifact) < minLength {
			return xerrors.Wrap(CodeValidationFailed, nil,
				fmt.Sprintf("图表产物过短: %d < %d", len(artifact), minLength))
		}
		// 宽松的 base64 检查：前缀不应包含空格。
		head := artifact
		if len(head) > 50 {
			head = head[:50]
		}
		if strings.ContainsAny(head, " \t\n") {
			return xerrors.Wrap(CodeValidationFailed, nil, "图表产物不是合法的 base64 数据")
		}
		return nil
	}
}

// DefaultValidators 返回内置的能力校验器映射。
func DefaultValidators() map[string]Validator {
	return map[string]Validator{
		"summarize_text":  SummaryValidator(10),
		"generate_charts": ChartValidator(100),
	}
}
