package ledger

import (
	"context"
	"math/big"

	xerrors "AgentVault-Core/internal/errors"
)

// 账本相关错误码。
const (
	CodeInsufficientFunds xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount     xerrors.Code = "INVALID_AMOUNT"
	CodeInvalidAccount    xerrors.Code = "INVALID_ACCOUNT"
)

func init() {
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:  "insufficient balance",
		Kind:     xerrors.KindPolicyDenial,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:  "amount must be positive",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidAccount, xerrors.Attributes{
		Message:  "account identifier is empty",
		Kind:     xerrors.KindValidation,
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrInsufficientFunds 表示账户余额不足以完成转账。
	ErrInsufficientFunds = xerrors.New(CodeInsufficientFunds, "")
	// ErrInvalidAmount 表示金额为零或为负。
	ErrInvalidAmount = xerrors.New(CodeInvalidAmount, "")
	// ErrInvalidAccount 表示账户标识为空。
	ErrInvalidAccount = xerrors.New(CodeInvalidAccount, "")
)

// Ledger 是引擎消费的代币划转原语。token 与账户标识对引擎而言是
// 不透明字符串，引擎只记录、不解释。实现必须保证单次 Transfer 的
// 原子性：余额检查与记账要么全部生效，要么全部不生效。
type Ledger interface {
	// Transfer 将 amount 从 from 划转到 to。余额不足时返回
	// ErrInsufficientFunds 且不产生任何副作用。
	Transfer(ctx context.Context, token, from, to string, amount *big.Int) error
	// Balance 返回账户在指定代币下的余额快照。
	Balance(ctx context.Context, account, token string) (*big.Int, error)
	// Deposit 为账户注入资金，由入金管道调用。
	Deposit(ctx context.Context, account, token string, amount *big.Int) error
}

// IsPositive 判断金额是否为正整数。
func IsPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// Copy 返回金额的防御性拷贝，nil 视为零。
func Copy(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(amount)
}
