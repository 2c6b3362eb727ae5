package ledger

import (
	"context"
)

// Outcome 表示一次雇佣的最终结果。
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// IsValidOutcome 检查给定的结果是否为支持的枚举值。
func IsValidOutcome(outcome Outcome) bool {
	return outcome == OutcomeSuccess || outcome == OutcomeFailure
}

// TransactionRecord 描述一次已完成的雇佣，追加后不可变更。
type TransactionRecord struct {
	ID           string  `json:"id"`
	BuyerID      string  `json:"buyer_id"`
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	Capability   string  `json:"capability"`
	PriceCharged float64 `json:"price_charged"`
	Outcome      Outcome `json:"outcome"`
	CompletedAt  int64   `json:"completed_at"`
}

// ListOptions 控制账本查询的过滤条件。
type ListOptions struct {
	SellerID string
	BuyerID  string
	Outcome  Outcome
	Limit    int
}

// Ledger 是只追加的交易账本。Append 必须是原子的；
// 并发追加之间只要求时间戳顺序，不要求全局因果顺序。
type Ledger interface {
	Append(ctx context.Context, record TransactionRecord) (*TransactionRecord, error)
	List(ctx context.Context, opts ListOptions) ([]*TransactionRecord, error)
	// TotalEarnedBy 统计指定卖方全部成功交易的金额，
	// 该值必须与目录中的 total_earned 一致。
	TotalEarnedBy(ctx context.Context, sellerID string) (float64, error)
	Close() error
}
