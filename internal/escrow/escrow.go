package escrow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"OpenAgora/internal/catalog"
	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/ledger"
	"OpenAgora/internal/observability/metrics"
	"OpenAgora/pkg/logger"
)

// HoldState 表示托管在生命周期中的状态。
type HoldState string

const (
	HoldOpened     HoldState = "opened"
	HoldDispatched HoldState = "dispatched"
	HoldSettled    HoldState = "settled"
)

// Hold 是一次在途雇佣的资金保留。每个 Hold 必须且只能结算一次。
type Hold struct {
	ID         string
	BuyerID    string
	SellerID   string
	SellerName string
	Capability string
	// Amount 是开立时锁定的买方资金上限。
	Amount    float64
	State     HoldState
	CreatedAt int64
}

var (
	// ErrAlreadySettled 表示托管已经结算，重复结算被拒绝。
	ErrAlreadySettled = xerrors.New(CodeAlreadySettled, "escrow hold already settled")
	// ErrInsufficientFunds 表示买方余额不足以锁定托管金额。
	ErrInsufficientFunds = xerrors.New(CodeInsufficientFunds, "insufficient buyer funds", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrOvercharge 表示卖方索价超过托管锁定的上限。
	ErrOvercharge = xerrors.New(CodeOvercharge, "seller charged above escrowed amount", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeAlreadySettled    xerrors.Code = "ESCROW_ALREADY_SETTLED"
	CodeInsufficientFunds xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeOvercharge        xerrors.Code = "OVERCHARGE_REJECTED"
)

func init() {
	xerrors.Register(CodeAlreadySettled, xerrors.Attributes{
		Message:   "escrow hold already settled",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:   "insufficient buyer funds",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeOvercharge, xerrors.Attributes{
		Message:   "seller charged above escrowed amount",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// Settlement 描述一次结算的输入。
type Settlement struct {
	Success bool
	// Price 是卖方实际索取的金额，失败结算时忽略。
	Price float64
	// LatencySample 是本次调用观测到的耗时（秒），<=0 表示无样本。
	LatencySample float64
}

// Manager 驱动每次雇佣的资金与信誉状态迁移：
// 校验通过才放款，成功与失败都恰好落一条账本记录。
type Manager struct {
	catalog catalog.Store
	ledger  ledger.Ledger
	wallets *Wallets

	mu    sync.Mutex
	holds map[string]*Hold
}

// NewManager 构造托管管理器。
func NewManager(store catalog.Store, book ledger.Ledger, wallets *Wallets) *Manager {
	return &Manager{
		catalog: store,
		ledger:  book,
		wallets: wallets,
		holds:   make(map[string]*Hold),
	}
}

// Open 在买方钱包中锁定资金并开立托管。
func (m *Manager) Open(_ context.Context, buyerID string, seller *catalog.AgentRecord, maxPrice float64) (*Hold, error) {
	if seller == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "卖方不能为空")
	}
	if maxPrice < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "托管金额不能为负数")
	}
	if err := m.wallets.Debit(buyerID, maxPrice); err != nil {
		return nil, err
	}

	hold := &Hold{
		ID:         uuid.NewString(),
		BuyerID:    buyerID,
		SellerID:   seller.ID,
		SellerName: seller.Name,
		Capability: seller.Capability,
		Amount:     maxPrice,
		State:      HoldOpened,
		CreatedAt:  time.Now().Unix(),
	}
	m.mu.Lock()
	m.holds[hold.ID] = hold
	m.mu.Unlock()

	logger.Audit().Info("托管已开立",
		slog.String("hold_id", hold.ID),
		slog.String("buyer_id", buyerID),
		slog.String("seller", seller.Name),
		slog.Float64("amount", maxPrice),
	)
	return hold, nil
}

// MarkDispatched 记录任务已经发往卖方端点。
func (m *Manager) MarkDispatched(hold *Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked, ok := m.holds[hold.ID]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "托管不存在")
	}
	if tracked.State == HoldSettled {
		return ErrAlreadySettled
	}
	tracked.State = HoldDispatched
	hold.State = HoldDispatched
	return nil
}

// Settle 结算托管并返回落入账本的交易记录。对同一 Hold 的第二次调用
// 返回 ErrAlreadySettled，不产生任何二次效果。索价超出锁定金额时退款
// 买方、按失败结算并返回 ErrOvercharge。
func (m *Manager) Settle(ctx context.Context, hold *Hold, settlement Settlement) (*ledger.TransactionRecord, error) {
	m.mu.Lock()
	tracked, ok := m.holds[hold.ID]
	if !ok {
		m.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeNotFound, "托管不存在")
	}
	if tracked.State == HoldSettled {
		m.mu.Unlock()
		return nil, ErrAlreadySettled
	}
	tracked.State = HoldSettled
	hold.State = HoldSettled
	m.mu.Unlock()

	overcharged := settlement.Success && settlement.Price > tracked.Amount
	success := settlement.Success && !overcharged

	// 钱包账户统一以可读名称为键：买方用 BuyerID，卖方用注册名。
	// /api/v1/wallets/{account} 也按同一键查询。
	var priceCharged float64
	if success {
		priceCharged = settlement.Price
		m.wallets.Credit(tracked.SellerName, settlement.Price)
		if refund := tracked.Amount - settlement.Price; refund > 0 {
			m.wallets.Credit(tracked.BuyerID, refund)
		}
	} else {
		// 校验失败、调用失败或超额索价：分文不动，全额退还买方。
		m.wallets.Credit(tracked.BuyerID, tracked.Amount)
	}

	// 资金已经划转，此后不再提前返回：统计失败只记录日志，
	// 账本条目必须落下，否则账本与钱包状态会出现分歧。
	if _, err := m.catalog.UpdateStats(ctx, tracked.SellerID, catalog.StatsUpdate{
		Success:       success,
		Earned:        priceCharged,
		LatencySample: settlement.LatencySample,
	}); err != nil {
		logger.L().Error("结算后更新卖方统计失败",
			slog.Any("error", err),
			slog.String("hold_id", tracked.ID),
			slog.String("seller_id", tracked.SellerID),
		)
	}

	outcome := ledger.OutcomeFailure
	if success {
		outcome = ledger.OutcomeSuccess
	}
	record, err := m.ledger.Append(ctx, ledger.TransactionRecord{
		BuyerID:      tracked.BuyerID,
		SellerID:     tracked.SellerID,
		SellerName:   tracked.SellerName,
		Capability:   tracked.Capability,
		PriceCharged: priceCharged,
		Outcome:      outcome,
	})
	if err != nil {
		logger.L().Error("结算记录落账失败",
			slog.Any("error", err),
			slog.String("hold_id", tracked.ID),
			slog.String("outcome", string(outcome)),
		)
		return nil, err
	}

	metrics.ObserveSettlement(tracked.Capability, string(outcome), priceCharged)

	logger.Audit().Info("托管已结算",
		slog.String("hold_id", tracked.ID),
		slog.String("buyer_id", tracked.BuyerID),
		slog.String("seller", tracked.SellerName),
		slog.String("outcome", string(outcome)),
		slog.Float64("price_charged", priceCharged),
	)

	if overcharged {
		return nil, ErrOvercharge
	}
	return record, nil
}
