package escrow

import (
	"context"
	"errors"
	"math"
	"testing"

	"OpenAgora/internal/catalog"
	"OpenAgora/internal/ledger"
)

func newTestManager(t *testing.T) (*Manager, catalog.Store, ledger.Ledger, *Wallets, *catalog.AgentRecord) {
	t.Helper()
	store := catalog.NewMemoryStore()
	book := ledger.NewMemoryLedger()
	wallets := NewWallets(map[string]float64{"pm-budget": 10.0})

	seller, err := store.Register(context.Background(), catalog.Registration{
		Name:       "ChartBot_Budget_v1",
		Capability: "generate_charts",
		Price:      0.03,
		Endpoint:   "http://127.0.0.1:8003/execute_task",
	})
	if err != nil {
		t.Fatalf("register seller: %v", err)
	}
	return NewManager(store, book, wallets), store, book, wallets, seller
}

func TestSettleSuccessMovesFundsAndStats(t *testing.T) {
	manager, store, book, wallets, seller := newTestManager(t)
	ctx := context.Background()

	hold, err := manager.Open(ctx, "pm-budget", seller, 0.05)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := wallets.Balance("pm-budget"); math.Abs(got-9.95) > 1e-9 {
		t.Fatalf("funds must be locked on open, balance %v", got)
	}
	if err := manager.MarkDispatched(hold); err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}

	record, err := manager.Settle(ctx, hold, Settlement{Success: true, Price: 0.03, LatencySample: 0.8})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.Outcome != ledger.OutcomeSuccess || record.PriceCharged != 0.03 {
		t.Fatalf("unexpected record: %+v", record)
	}

	// 未用完的锁定金额退回买方。
	if got := wallets.Balance("pm-budget"); math.Abs(got-9.97) > 1e-9 {
		t.Fatalf("expected refund of unused amount, balance %v", got)
	}
	// 卖方按注册名收款，不使用内部 ID 作为账户键。
	if got := wallets.Balance(seller.Name); math.Abs(got-0.03) > 1e-9 {
		t.Fatalf("seller wallet not credited: %v", got)
	}
	if got := wallets.Balance(seller.ID); got != 0 {
		t.Fatalf("seller must not be paid under the internal id: %v", got)
	}

	updated, err := store.Get(ctx, seller.ID)
	if err != nil {
		t.Fatalf("get seller: %v", err)
	}
	if updated.TotalJobs != 1 || updated.SuccessfulJobs != 1 {
		t.Fatalf("unexpected counters: %+v", updated)
	}
	if math.Abs(updated.TotalEarned-0.03) > 1e-9 {
		t.Fatalf("unexpected earnings: %v", updated.TotalEarned)
	}

	earned, err := book.TotalEarnedBy(ctx, seller.ID)
	if err != nil {
		t.Fatalf("total earned: %v", err)
	}
	if math.Abs(earned-updated.TotalEarned) > 1e-9 {
		t.Fatalf("ledger and catalog disagree: %v vs %v", earned, updated.TotalEarned)
	}
}

func TestSettleFailureRefundsAndPenalises(t *testing.T) {
	manager, store, book, wallets, seller := newTestManager(t)
	ctx := context.Background()

	hold, err := manager.Open(ctx, "pm-budget", seller, 0.03)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	record, err := manager.Settle(ctx, hold, Settlement{Success: false, LatencySample: 5.0})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.Outcome != ledger.OutcomeFailure || record.PriceCharged != 0 {
		t.Fatalf("unexpected record: %+v", record)
	}

	if got := wallets.Balance("pm-budget"); math.Abs(got-10.0) > 1e-9 {
		t.Fatalf("failure must fully refund the buyer, balance %v", got)
	}
	if got := wallets.Balance(seller.Name); got != 0 {
		t.Fatalf("no funds may move on failure: %v", got)
	}

	updated, err := store.Get(ctx, seller.ID)
	if err != nil {
		t.Fatalf("get seller: %v", err)
	}
	if updated.TotalJobs != 1 || updated.SuccessfulJobs != 0 {
		t.Fatalf("unexpected counters: %+v", updated)
	}
	if updated.TotalEarned != 0 {
		t.Fatalf("failed validation must not increase earnings: %v", updated.TotalEarned)
	}
	if math.Abs(updated.Rating-(catalog.DefaultRating-0.1)) > 1e-9 {
		t.Fatalf("expected fixed rating penalty, got %v", updated.Rating)
	}

	failures, err := book.List(ctx, ledger.ListOptions{SellerID: seller.ID, Outcome: ledger.OutcomeFailure})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("exactly one failure ledger entry expected: %d", len(failures))
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	manager, store, _, _, seller := newTestManager(t)
	ctx := context.Background()

	hold, err := manager.Open(ctx, "pm-budget", seller, 0.03)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := manager.Settle(ctx, hold, Settlement{Success: true, Price: 0.03}); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := manager.Settle(ctx, hold, Settlement{Success: true, Price: 0.03}); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	updated, err := store.Get(ctx, seller.ID)
	if err != nil {
		t.Fatalf("get seller: %v", err)
	}
	if updated.TotalJobs != 1 {
		t.Fatalf("statistics must reflect exactly one settlement: %+v", updated)
	}
}

func TestOpenRejectsInsufficientFunds(t *testing.T) {
	manager, _, _, wallets, seller := newTestManager(t)
	ctx := context.Background()

	if _, err := manager.Open(ctx, "pm-broke", seller, 0.05); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := wallets.Balance("pm-broke"); got != 0 {
		t.Fatalf("rejected open must not touch balances: %v", got)
	}
}

// brokenStatsStore 模拟统计写入不可用的目录存储。
type brokenStatsStore struct {
	catalog.Store
}

func (s *brokenStatsStore) UpdateStats(context.Context, string, catalog.StatsUpdate) (*catalog.AgentRecord, error) {
	return nil, errors.New("stats storage unavailable")
}

func TestSettleAppendsLedgerWhenStatsUpdateFails(t *testing.T) {
	store := catalog.NewMemoryStore()
	book := ledger.NewMemoryLedger()
	wallets := NewWallets(map[string]float64{"pm-budget": 10.0})
	ctx := context.Background()

	seller, err := store.Register(ctx, catalog.Registration{
		Name:       "ChartBot_Budget_v1",
		Capability: "generate_charts",
		Price:      0.03,
	})
	if err != nil {
		t.Fatalf("register seller: %v", err)
	}
	manager := NewManager(&brokenStatsStore{Store: store}, book, wallets)

	hold, err := manager.Open(ctx, "pm-budget", seller, 0.05)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	record, err := manager.Settle(ctx, hold, Settlement{Success: true, Price: 0.03})
	if err != nil {
		t.Fatalf("settle must survive a stats failure: %v", err)
	}
	if record.Outcome != ledger.OutcomeSuccess {
		t.Fatalf("unexpected record: %+v", record)
	}

	// 资金划转已经发生，账本必须落账，不因统计失败回退。
	records, err := book.List(ctx, ledger.ListOptions{SellerID: seller.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("exactly one ledger entry expected: %d", len(records))
	}
	if got := wallets.Balance(seller.Name); math.Abs(got-0.03) > 1e-9 {
		t.Fatalf("seller payment lost: %v", got)
	}
}

func TestSettleRejectsOvercharge(t *testing.T) {
	manager, store, book, wallets, seller := newTestManager(t)
	ctx := context.Background()

	hold, err := manager.Open(ctx, "pm-budget", seller, 0.05)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := manager.Settle(ctx, hold, Settlement{Success: true, Price: 0.10}); !errors.Is(err, ErrOvercharge) {
		t.Fatalf("expected ErrOvercharge, got %v", err)
	}

	if got := wallets.Balance("pm-budget"); math.Abs(got-10.0) > 1e-9 {
		t.Fatalf("overcharge must fully refund the buyer: %v", got)
	}
	if got := wallets.Balance(seller.Name); got != 0 {
		t.Fatalf("overcharging seller must not be paid: %v", got)
	}

	updated, err := store.Get(ctx, seller.ID)
	if err != nil {
		t.Fatalf("get seller: %v", err)
	}
	if updated.TotalEarned != 0 || updated.SuccessfulJobs != 0 {
		t.Fatalf("overcharge must settle as failure: %+v", updated)
	}

	records, err := book.List(ctx, ledger.ListOptions{SellerID: seller.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != ledger.OutcomeFailure {
		t.Fatalf("overcharge must land exactly one failure record: %+v", records)
	}
}
