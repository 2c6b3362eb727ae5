package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "OpenAgora/internal/errors"
)

// DispatchResult 是卖方端点返回的约定结构。
type DispatchResult struct {
	Status string `json:"status"`
	Result string `json:"result"`
	// ReportedLatency 是卖方自报的执行耗时（秒），可为 0。
	ReportedLatency float64 `json:"reported_latency"`
}

// Dispatcher 负责把任务载荷发送到卖方端点并取回结果。
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, payload any) (*DispatchResult, error)
}

var (
	// ErrDispatchTimeout 表示对卖方的调用超出配置的时限。
	ErrDispatchTimeout = xerrors.New(CodeDispatchTimeout, "dispatch timed out")
	// ErrDispatchFailed 表示卖方端点不可达或返回了非法数据。
	ErrDispatchFailed = xerrors.New(CodeDispatchFailed, "dispatch failed")
)

const (
	CodeDispatchTimeout xerrors.Code = "DISPATCH_TIMEOUT"
	CodeDispatchFailed  xerrors.Code = "DISPATCH_FAILED"
)

func init() {
	xerrors.Register(CodeDispatchTimeout, xerrors.Attributes{
		Message:   "dispatch timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDispatchFailed, xerrors.Attributes{
		Message:   "dispatch failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

const defaultDispatchTimeout = 30 * time.Second

// HTTPDispatcher 通过 HTTP JSON 协议调用卖方端点。
type HTTPDispatcher struct {
	httpClient *http.Client
}

// NewHTTPDispatcher 创建 HTTP 派发器。
func NewHTTPDispatcher(client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: defaultDispatchTimeout}
	}
	return &HTTPDispatcher{httpClient: client}
}

// Dispatch 向卖方端点 POST 任务载荷并解析结果。
// 超时与取消映射为 ErrDispatchTimeout，其余故障映射为 ErrDispatchFailed。
func (d *HTTPDispatcher) Dispatch(ctx context.Context, endpoint string, payload any) (*DispatchResult, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, xerrors.Wrap(CodeDispatchFailed, nil, "卖方端点为空")
	}

	body, err := json.Marshal(map[string]any{"task_data": payload})
	if err != nil {
		return nil, xerrors.Wrap(CodeDispatchFailed, err, "编码任务载荷失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(CodeDispatchFailed, err, "构建卖方请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrap(CodeDispatchTimeout, err, "调用卖方超时")
		}
		return nil, xerrors.Wrap(CodeDispatchFailed, err, "调用卖方失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.Wrap(CodeDispatchFailed, nil,
			fmt.Sprintf("卖方返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var result DispatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, xerrors.Wrap(CodeDispatchFailed, err, "解析卖方响应失败")
	}
	return &result, nil
}

// ensure interface compliance at compile time
var _ Dispatcher = (*HTTPDispatcher)(nil)
