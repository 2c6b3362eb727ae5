package orchestrator

import (
	"context"
	stdErrors "errors"
	"math/rand"
	"strings"
	"testing"

	"OpenAgora/internal/catalog"
	"OpenAgora/internal/escrow"
	"OpenAgora/internal/ledger"
	"OpenAgora/internal/selection"
)

// stubDispatcher 以固定结果或固定错误应答派发请求。
type stubDispatcher struct {
	result *DispatchResult
	err    error
	calls  int
}

func (d *stubDispatcher) Dispatch(_ context.Context, _ string, _ any) (*DispatchResult, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.result, nil
}

type testHarness struct {
	store   *catalog.MemoryStore
	book    *ledger.MemoryLedger
	wallets *escrow.Wallets
	engine  *Engine
}

func newHarness(t *testing.T, dispatcher Dispatcher, opts ...EngineOption) *testHarness {
	t.Helper()
	store := catalog.NewMemoryStore()
	book := ledger.NewMemoryLedger()
	wallets := escrow.NewWallets(map[string]float64{"buyer-1": 10.0})
	manager := escrow.NewManager(store, book, wallets)
	selector := selection.NewEngine(store, selection.WithRandSource(rand.New(rand.NewSource(7))))
	engine := NewEngine(selector, manager, dispatcher, opts...)
	return &testHarness{store: store, book: book, wallets: wallets, engine: engine}
}

func (h *testHarness) registerAgent(t *testing.T, name string, price float64) *catalog.AgentRecord {
	t.Helper()
	agent, err := h.store.Register(context.Background(), catalog.Registration{
		Name:       name,
		Capability: "summarize_text",
		Price:      price,
		Endpoint:   "http://agents.local/" + name,
	})
	if err != nil {
		t.Fatalf("注册智能体失败: %v", err)
	}
	return agent
}

func TestExecuteJobSuccess(t *testing.T) {
	dispatcher := &stubDispatcher{result: &DispatchResult{
		Status:          "success",
		Result:          "这是一个足够长的摘要结果，超过最小长度限制。",
		ReportedLatency: 0.42,
	}}
	h := newHarness(t, dispatcher)
	h.registerAgent(t, "Summarizer_v1", 0.05)

	outcome, err := h.engine.ExecuteJob(context.Background(), JobSpec{
		BuyerID:    "buyer-1",
		Capability: "summarize_text",
		Payload:    "please summarize",
	})
	if err != nil {
		t.Fatalf("执行任务失败: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("期望任务成功, 实际失败: %s", outcome.FailureReason)
	}
	if outcome.PriceIncurred != 0.05 {
		t.Fatalf("期望支付 0.05, 实际 %v", outcome.PriceIncurred)
	}
	if outcome.TotalCostIncurred != 0.05 {
		t.Fatalf("期望累计支出 0.05, 实际 %v", outcome.TotalCostIncurred)
	}
	if outcome.SellerName != "Summarizer_v1" {
		t.Fatalf("结果应当标记中选卖方, 实际 %q", outcome.SellerName)
	}

	// 卖方应当收到货款，买方余额相应减少。
	if got := h.wallets.Balance("Summarizer_v1"); got != 0.05 {
		t.Fatalf("期望卖方余额 0.05, 实际 %v", got)
	}
	if got := h.wallets.Balance("buyer-1"); got != 9.95 {
		t.Fatalf("期望买方余额 9.95, 实际 %v", got)
	}

	agent, err := h.store.Get(context.Background(), outcome.SellerID)
	if err != nil {
		t.Fatalf("查询智能体失败: %v", err)
	}
	if agent.TotalJobs != 1 || agent.SuccessfulJobs != 1 {
		t.Fatalf("期望统计 1/1, 实际 %d/%d", agent.TotalJobs, agent.SuccessfulJobs)
	}
	if agent.Rating != 5.0 {
		t.Fatalf("成功后评分应当停留在上限 5.0, 实际 %v", agent.Rating)
	}

	records, err := h.book.List(context.Background(), ledger.ListOptions{})
	if err != nil {
		t.Fatalf("查询账本失败: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != ledger.OutcomeSuccess {
		t.Fatalf("期望恰好一条成功账目, 实际 %d 条", len(records))
	}
}

func TestExecuteJobDispatchTimeoutSettlesAsFailure(t *testing.T) {
	dispatcher := &stubDispatcher{err: ErrDispatchTimeout}
	h := newHarness(t, dispatcher)
	agent := h.registerAgent(t, "SlowAgent_v1", 0.05)

	outcome, err := h.engine.ExecuteJob(context.Background(), JobSpec{
		BuyerID:    "buyer-1",
		Capability: "summarize_text",
		Payload:    "slow request",
	})
	if err != nil {
		t.Fatalf("超时应当作为业务失败返回, 而不是错误: %v", err)
	}
	if outcome.Success {
		t.Fatal("超时任务不应当成功")
	}
	if outcome.PriceIncurred != 0 {
		t.Fatalf("失败任务不应当产生支出, 实际 %v", outcome.PriceIncurred)
	}
	if outcome.ErrorCode != string(CodeDispatchTimeout) {
		t.Fatalf("期望错误码 %s, 实际 %q", CodeDispatchTimeout, outcome.ErrorCode)
	}

	// 买方应当被全额退款。
	if got := h.wallets.Balance("buyer-1"); got != 10.0 {
		t.Fatalf("期望买方余额 10.0, 实际 %v", got)
	}
	if got := h.wallets.Balance("SlowAgent_v1"); got != 0 {
		t.Fatalf("失败任务不应当给卖方付款, 实际 %v", got)
	}

	updated, err := h.store.Get(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("查询智能体失败: %v", err)
	}
	if updated.TotalJobs != 1 || updated.SuccessfulJobs != 0 {
		t.Fatalf("期望统计 1/0, 实际 %d/%d", updated.TotalJobs, updated.SuccessfulJobs)
	}
	if updated.Rating != 4.9 {
		t.Fatalf("失败后评分应当下降到 4.9, 实际 %v", updated.Rating)
	}

	records, err := h.book.List(context.Background(), ledger.ListOptions{Outcome: ledger.OutcomeFailure})
	if err != nil {
		t.Fatalf("查询账本失败: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("期望恰好一条失败账目, 实际 %d 条", len(records))
	}
}

func TestExecuteJobValidationFailure(t *testing.T) {
	// 摘要过短，通不过能力校验。
	dispatcher := &stubDispatcher{result: &DispatchResult{Status: "success", Result: "short"}}
	h := newHarness(t, dispatcher)
	h.registerAgent(t, "LazyAgent_v1", 0.03)

	outcome, err := h.engine.ExecuteJob(context.Background(), JobSpec{
		BuyerID:    "buyer-1",
		Capability: "summarize_text",
		Payload:    "please summarize",
	})
	if err != nil {
		t.Fatalf("校验失败应当作为业务失败返回: %v", err)
	}
	if outcome.Success {
		t.Fatal("校验失败的任务不应当成功")
	}
	if outcome.ErrorCode != string(CodeValidationFailed) {
		t.Fatalf("期望错误码 %s, 实际 %q", CodeValidationFailed, outcome.ErrorCode)
	}
	if got := h.wallets.Balance("buyer-1"); got != 10.0 {
		t.Fatalf("校验失败后买方应当被全额退款, 实际余额 %v", got)
	}

	records, err := h.book.List(context.Background(), ledger.ListOptions{})
	if err != nil {
		t.Fatalf("查询账本失败: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != ledger.OutcomeFailure {
		t.Fatalf("期望恰好一条失败账目, 实际 %d 条", len(records))
	}
}

func TestExecuteJobNoCandidates(t *testing.T) {
	h := newHarness(t, &stubDispatcher{result: &DispatchResult{Result: "unused"}})

	outcome, err := h.engine.ExecuteJob(context.Background(), JobSpec{
		BuyerID:    "buyer-1",
		Capability: "unknown_capability",
		Payload:    "anything",
	})
	if err != nil {
		t.Fatalf("无候选应当作为业务失败返回: %v", err)
	}
	if outcome.Success {
		t.Fatal("无候选的任务不应当成功")
	}
	if !strings.Contains(outcome.FailureReason, selection.ErrNoCandidates.Error()) {
		t.Fatalf("失败原因应当说明无候选, 实际 %q", outcome.FailureReason)
	}
}

func TestExecuteJobInvalidWeights(t *testing.T) {
	h := newHarness(t, &stubDispatcher{result: &DispatchResult{Result: "unused"}})
	h.registerAgent(t, "AnyAgent_v1", 0.05)

	_, err := h.engine.ExecuteJob(context.Background(), JobSpec{
		BuyerID:    "buyer-1",
		Capability: "summarize_text",
		Payload:    "anything",
		Weights:    &selection.Weights{Price: -1, Quality: 1, Speed: 1, Temperature: 1},
	})
	if !stdErrors.Is(err, selection.ErrInvalidWeights) {
		t.Fatalf("期望 ErrInvalidWeights, 实际 %v", err)
	}
}

func TestExecuteJobAccumulatesBuyerCost(t *testing.T) {
	dispatcher := &stubDispatcher{result: &DispatchResult{
		Status: "success",
		Result: "这是一个足够长的摘要结果，超过最小长度限制。",
	}}
	h := newHarness(t, dispatcher)
	h.registerAgent(t, "Summarizer_v1", 0.02)

	for i := 0; i < 3; i++ {
		outcome, err := h.engine.ExecuteJob(context.Background(), JobSpec{
			BuyerID:    "buyer-1",
			Capability: "summarize_text",
			Payload:    "please summarize",
		})
		if err != nil || !outcome.Success {
			t.Fatalf("第 %d 次任务失败: %v", i+1, err)
		}
	}
	if got := h.engine.TotalCost("buyer-1"); got < 0.0599 || got > 0.0601 {
		t.Fatalf("期望累计支出约 0.06, 实际 %v", got)
	}
}
