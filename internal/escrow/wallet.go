package escrow

import (
	"strings"
	"sync"

	xerrors "OpenAgora/internal/errors"
)

// Wallets 维护市场内各账户的余额。买方在开立托管时被扣款，
// 卖方在结算成功时收款。
type Wallets struct {
	mu       sync.RWMutex
	balances map[string]float64
}

// NewWallets 根据种子余额初始化钱包存储。
func NewWallets(seeds map[string]float64) *Wallets {
	balances := make(map[string]float64, len(seeds))
	for account, balance := range seeds {
		account = strings.TrimSpace(account)
		if account == "" || balance < 0 {
			continue
		}
		balances[account] = balance
	}
	return &Wallets{balances: balances}
}

// Balance 返回账户余额，未知账户余额为 0。
func (w *Wallets) Balance(account string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[account]
}

// Credit 向账户入账。
func (w *Wallets) Credit(account string, amount float64) {
	if amount <= 0 {
		return
	}
	w.mu.Lock()
	w.balances[account] += amount
	w.mu.Unlock()
}

// Debit 从账户扣款，余额不足时返回 ErrInsufficientFunds。
func (w *Wallets) Debit(account string, amount float64) error {
	if amount < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "扣款金额不能为负数")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[account] < amount {
		return ErrInsufficientFunds
	}
	w.balances[account] -= amount
	return nil
}
