package policy

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentVault-Core/internal/audit"
	"AgentVault-Core/internal/clock"
	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/ledger"
	"AgentVault-Core/internal/observability/metrics"
)

// SponsorContext 是一次被批准的 gas 代付的结算凭据。结算只认
// 凭据里记录的钱包，扣减的是实际消耗而不是申请额。
type SponsorContext struct {
	ID        string   `json:"id"`
	Wallet    string   `json:"wallet"`
	Requested *big.Int `json:"requested"`
	IssuedAt  int64    `json:"issued_at"`
}

// PaymasterGuardConfig 描述代付守卫的初始参数。
type PaymasterGuardConfig struct {
	Authority    string
	DailyCap     *big.Int
	Allowlist    []string
	RoleTimelock time.Duration
}

// PaymasterGuard 是策略引擎的 gas 代付变体：按钱包按天限制被
// 代付的执行成本。校验只做预算检查，真正的扣减发生在操作完成
// （无论成功或回滚）之后的结算，过高的申请不会浪费代付额度。
type PaymasterGuard struct {
	mu        sync.Mutex
	authority string
	dailyCap  *big.Int
	allowlist map[string]struct{}
	usage     map[string]*TimeWindowAccumulator
	pending   map[string]*SponsorContext
	transfer  *PendingRoleTransfer
	timelock  time.Duration
	clock     clock.Clock
	sink      audit.Sink
}

// PaymasterOption 定义可选配置。
type PaymasterOption func(*PaymasterGuard)

// WithPaymasterClock 指定时间来源。
func WithPaymasterClock(c clock.Clock) PaymasterOption {
	return func(g *PaymasterGuard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithPaymasterAuditSink 指定审计事件出口。
func WithPaymasterAuditSink(sink audit.Sink) PaymasterOption {
	return func(g *PaymasterGuard) {
		g.sink = sink
	}
}

// NewPaymasterGuard 构造代付守卫。
func NewPaymasterGuard(cfg PaymasterGuardConfig, opts ...PaymasterOption) *PaymasterGuard {
	timelock := cfg.RoleTimelock
	if timelock <= 0 {
		timelock = 48 * time.Hour
	}
	g := &PaymasterGuard{
		authority: cfg.Authority,
		dailyCap:  ledger.Copy(cfg.DailyCap),
		allowlist: make(map[string]struct{}, len(cfg.Allowlist)),
		usage:     make(map[string]*TimeWindowAccumulator),
		pending:   make(map[string]*SponsorContext),
		timelock:  timelock,
		clock:     clock.System(),
	}
	for _, wallet := range cfg.Allowlist {
		g.allowlist[wallet] = struct{}{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// ValidateSponsorship 决定是否为钱包代付一笔执行成本，并返回
// 结算凭据。钱包必须在代付名单内，且申请额不超过当日剩余额度。
func (g *PaymasterGuard) ValidateSponsorship(ctx context.Context, wallet string, requestedGas *big.Int) (*SponsorContext, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !ledger.IsPositive(requestedGas) {
		return nil, g.denySponsor(ctx, wallet, requestedGas, ErrInvalidAmount, now)
	}
	if _, ok := g.allowlist[wallet]; !ok {
		return nil, g.denySponsor(ctx, wallet, requestedGas, ErrSponsorNotAllowed, now)
	}
	window := g.walletWindow(wallet, now)
	if window.Projected(requestedGas).Cmp(g.dailyCap) > 0 {
		return nil, g.denySponsor(ctx, wallet, requestedGas, ErrSponsorCapExceeded, now)
	}

	sponsorCtx := &SponsorContext{
		ID:        uuid.NewString(),
		Wallet:    wallet,
		Requested: new(big.Int).Set(requestedGas),
		IssuedAt:  now.Unix(),
	}
	g.pending[sponsorCtx.ID] = sponsorCtx

	metrics.ObserveDecision("validate_sponsorship", "OK")
	g.emit(ctx, audit.NewEvent(audit.EventSponsorApproved, wallet, now).
		WithAmount("requested", requestedGas))
	return sponsorCtx, nil
}

// SettleSponsorship 在被代付的操作完成后入账实际消耗。重复结算
// 同一凭据会被拒绝，绝不重复扣减。
func (g *PaymasterGuard) SettleSponsorship(ctx context.Context, contextID string, actualGasUsed *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	sponsorCtx, ok := g.pending[contextID]
	if !ok {
		return g.denySponsor(ctx, "", actualGasUsed, ErrSponsorUnknown, now)
	}
	if actualGasUsed == nil || actualGasUsed.Sign() < 0 {
		return g.denySponsor(ctx, sponsorCtx.Wallet, actualGasUsed, ErrInvalidAmount, now)
	}

	delete(g.pending, contextID)
	window := g.walletWindow(sponsorCtx.Wallet, now)
	if actualGasUsed.Sign() > 0 {
		window.Accrue(actualGasUsed)
	}

	metrics.ObserveDecision("settle_sponsorship", "OK")
	g.emit(ctx, audit.NewEvent(audit.EventSponsorSettled, sponsorCtx.Wallet, now).
		WithAmount("requested", sponsorCtx.Requested).
		WithAmount("settled", actualGasUsed))
	return nil
}

// RemainingAllowance 返回钱包当日剩余的代付额度。
func (g *PaymasterGuard) RemainingAllowance(wallet string) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	window := g.walletWindow(wallet, g.clock.Now())
	remaining := new(big.Int).Sub(g.dailyCap, window.Spent)
	if remaining.Sign() < 0 {
		return new(big.Int)
	}
	return remaining
}

// AllowWallet 把钱包加入代付名单，仅限当前权限方。
func (g *PaymasterGuard) AllowWallet(actor, wallet string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actor == "" || actor != g.authority {
		return ErrUnauthorized
	}
	if wallet == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "wallet 不能为空")
	}
	g.allowlist[wallet] = struct{}{}
	return nil
}

// RemoveWallet 把钱包移出代付名单，仅限当前权限方。
func (g *PaymasterGuard) RemoveWallet(actor, wallet string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actor == "" || actor != g.authority {
		return ErrUnauthorized
	}
	delete(g.allowlist, wallet)
	return nil
}

// SetDailyCap 调整按钱包按天的代付上限，仅限当前权限方。
func (g *PaymasterGuard) SetDailyCap(actor string, limit *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actor == "" || actor != g.authority {
		return ErrUnauthorized
	}
	if !ledger.IsPositive(limit) {
		return ErrInvalidAmount
	}
	g.dailyCap = new(big.Int).Set(limit)
	return nil
}

// ProposeAuthorityTransfer 对代付权限方复用两步延时移交协议。
func (g *PaymasterGuard) ProposeAuthorityTransfer(actor, newAuthority string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actor == "" || actor != g.authority {
		return ErrUnauthorized
	}
	if newAuthority == "" || newAuthority == g.authority {
		return xerrors.New(xerrors.CodeInvalidArgument, "新权限方地址无效")
	}
	if g.transfer != nil {
		return ErrTransferPending
	}
	g.transfer = &PendingRoleTransfer{Proposed: newAuthority, ProposedAt: g.clock.Now().Unix()}
	return nil
}

// CancelAuthorityTransfer 撤销待执行的权限方移交提案。
func (g *PaymasterGuard) CancelAuthorityTransfer(actor string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actor == "" || actor != g.authority {
		return ErrUnauthorized
	}
	if g.transfer == nil {
		return ErrNoPendingTransfer
	}
	g.transfer = nil
	return nil
}

// ExecuteAuthorityTransfer 在延时走完后切换代付权限方。
func (g *PaymasterGuard) ExecuteAuthorityTransfer(actor string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if actor == "" || actor != g.authority {
		return ErrUnauthorized
	}
	if g.transfer == nil {
		return ErrNoPendingTransfer
	}
	if !g.transfer.Ready(g.clock.Now(), g.timelock) {
		return ErrTimelockActive
	}
	g.authority = g.transfer.Proposed
	g.transfer = nil
	return nil
}

// walletWindow 返回钱包的日窗口累计器，并处理跨天清零。
func (g *PaymasterGuard) walletWindow(wallet string, now time.Time) *TimeWindowAccumulator {
	window, ok := g.usage[wallet]
	if !ok {
		acc := NewTimeWindowAccumulator(now)
		window = &acc
		g.usage[wallet] = window
	}
	window.Rollover(now)
	return window
}

func (g *PaymasterGuard) denySponsor(ctx context.Context, wallet string, amount *big.Int, err error, now time.Time) error {
	metrics.ObserveDecision("sponsorship", string(xerrors.CodeOf(err)))
	event := audit.NewEvent(audit.EventSponsorDenied, wallet, now).WithReason(xerrors.CodeOf(err))
	if amount != nil {
		event = event.WithAmount("amount", amount)
	}
	g.emit(ctx, event)
	return err
}

func (g *PaymasterGuard) emit(ctx context.Context, event audit.Event) {
	if g.sink == nil {
		return
	}
	_ = g.sink.Emit(ctx, event)
}
