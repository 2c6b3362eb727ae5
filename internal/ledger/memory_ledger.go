package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "OpenAgora/internal/errors"
)

// MemoryLedger 以内存切片实现只追加账本。
type MemoryLedger struct {
	mu      sync.RWMutex
	records []TransactionRecord
}

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append 追加一条交易记录并补全 ID 与时间戳。
func (l *MemoryLedger) Append(_ context.Context, record TransactionRecord) (*TransactionRecord, error) {
	if !IsValidOutcome(record.Outcome) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的交易结果")
	}
	if record.SellerID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "卖方 ID 不能为空")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CompletedAt == 0 {
		record.CompletedAt = time.Now().Unix()
	}

	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()

	clone := record
	return &clone, nil
}

// List 返回符合过滤条件的交易记录，按追加顺序排列。
func (l *MemoryLedger) List(_ context.Context, opts ListOptions) ([]*TransactionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*TransactionRecord, 0, len(l.records))
	for i := range l.records {
		record := l.records[i]
		if !matchesFilters(&record, opts) {
			continue
		}
		clone := record
		results = append(results, &clone)
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// TotalEarnedBy 汇总指定卖方成功交易的金额。
func (l *MemoryLedger) TotalEarnedBy(_ context.Context, sellerID string) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for i := range l.records {
		record := &l.records[i]
		if record.SellerID == sellerID && record.Outcome == OutcomeSuccess {
			total += record.PriceCharged
		}
	}
	return total, nil
}

// Close 对内存账本无需操作。
func (l *MemoryLedger) Close() error {
	return nil
}

func matchesFilters(record *TransactionRecord, opts ListOptions) bool {
	if opts.SellerID != "" && record.SellerID != opts.SellerID {
		return false
	}
	if opts.BuyerID != "" && record.BuyerID != opts.BuyerID {
		return false
	}
	if opts.Outcome != "" && record.Outcome != opts.Outcome {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Ledger = (*MemoryLedger)(nil)
