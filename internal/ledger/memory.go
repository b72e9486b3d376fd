package ledger

import (
	"context"
	"math/big"
	"sync"
)

// MemoryLedger 以内存方式维护余额，主要用于测试以及未接入
// 托管账本的单机部署。所有操作由互斥锁串行化。
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]map[string]*big.Int
}

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]map[string]*big.Int)}
}

// Transfer 实现 Ledger 接口。
func (l *MemoryLedger) Transfer(_ context.Context, token, from, to string, amount *big.Int) error {
	if from == "" || to == "" {
		return ErrInvalidAccount
	}
	if !IsPositive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBal := l.balanceLocked(from, token)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromBal.Sub(fromBal, amount)
	toBal := l.balanceLocked(to, token)
	toBal.Add(toBal, amount)
	return nil
}

// Balance 实现 Ledger 接口。
func (l *MemoryLedger) Balance(_ context.Context, account, token string) (*big.Int, error) {
	if account == "" {
		return nil, ErrInvalidAccount
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	tokens, ok := l.balances[account]
	if !ok {
		return new(big.Int), nil
	}
	bal, ok := tokens[token]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

// Deposit 实现 Ledger 接口。
func (l *MemoryLedger) Deposit(_ context.Context, account, token string, amount *big.Int) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if !IsPositive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(account, token)
	bal.Add(bal, amount)
	return nil
}

// balanceLocked 返回可变的余额对象，调用方必须持有写锁。
func (l *MemoryLedger) balanceLocked(account, token string) *big.Int {
	tokens, ok := l.balances[account]
	if !ok {
		tokens = make(map[string]*big.Int)
		l.balances[account] = tokens
	}
	bal, ok := tokens[token]
	if !ok {
		bal = new(big.Int)
		tokens[token] = bal
	}
	return bal
}
