package escrow

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentVault-Core/internal/audit"
	"AgentVault-Core/internal/clock"
	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/ledger"
	"AgentVault-Core/internal/observability/alerting"
	"AgentVault-Core/internal/observability/metrics"
	"AgentVault-Core/pkg/logger"
)

// Config 描述托管引擎的全局参数。
type Config struct {
	// FeeBps 是按万分比计的手续费率，创建时锁定到托管单上。
	FeeBps int64
	// FeeRecipient 是手续费入账账户。
	FeeRecipient string
	// Arbiter 是唯一有权裁决争议的账户。
	Arbiter string
	// MinEscrowAmount 是单笔托管的最低金额。
	MinEscrowAmount *big.Int
	// MaxDeadline 是截止时间距创建时刻的最大跨度。
	MaxDeadline time.Duration
}

// applyDefaults 在未配置时填充默认值。
func (c *Config) applyDefaults() {
	if c.FeeBps < 0 {
		c.FeeBps = 0
	}
	if c.FeeRecipient == "" {
		c.FeeRecipient = "fees"
	}
	if c.MinEscrowAmount == nil || c.MinEscrowAmount.Sign() <= 0 {
		c.MinEscrowAmount = big.NewInt(1)
	}
	if c.MaxDeadline <= 0 {
		c.MaxDeadline = 90 * 24 * time.Hour
	}
}

// Engine 驱动买卖双方之间的托管状态机：注资、交付确认、分期
// 放款、争议裁决与逾期退款。所有前置校验都在任何转账之前完成，
// 失败的操作不留下任何部分生效的状态。
type Engine struct {
	store        Store
	ledger       ledger.Ledger
	sink         audit.Sink
	clock        clock.Clock
	alerter      alerting.Dispatcher
	logger       *slog.Logger
	reservations ReservationSource
	cfg          Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption 定义可选配置。
type EngineOption func(*Engine)

// WithClock 指定时间来源。
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithAuditSink 指定审计事件出口。
func WithAuditSink(sink audit.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithAlerter 配置告警派发器。
func WithAlerter(dispatcher alerting.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.alerter = dispatcher
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = log
	}
}

// ReservationSource 报告某账户在某代币下被外部冻结占用的金额。
// 与策略引擎共享账本时，注资不得动用冻结中的余额。
type ReservationSource interface {
	Reserved(ctx context.Context, account, token string) (*big.Int, error)
}

// WithReservations 让注资校验把外部冻结计入不可用余额。
func WithReservations(src ReservationSource) EngineOption {
	return func(e *Engine) {
		e.reservations = src
	}
}

// NewEngine 构造托管引擎。
func NewEngine(store Store, ldgr ledger.Ledger, cfg Config, opts ...EngineOption) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:  store,
		ledger: ldgr,
		clock:  clock.System(),
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// CreateEscrowInput 描述创建托管单的参数。
type CreateEscrowInput struct {
	Seller        string
	Token         string
	Amount        *big.Int
	Deadline      int64
	ConditionHash string
	Description   string
}

// MilestoneInput 描述一个分期。
type MilestoneInput struct {
	Description string
	Amount      *big.Int
}

// CreateEscrow 由买方创建托管单，手续费此刻按费率锁定，之后
// 费率变更不影响已创建的托管单。创建不动账。
func (e *Engine) CreateEscrow(ctx context.Context, buyer string, input CreateEscrowInput) (*Escrow, error) {
	return e.create(ctx, buyer, input, nil)
}

// CreateEscrowWithMilestones 创建分期托管单，总金额隐含为各
// 分期之和。
func (e *Engine) CreateEscrowWithMilestones(ctx context.Context, buyer string, input CreateEscrowInput, milestones []MilestoneInput) (*Escrow, error) {
	if len(milestones) == 0 {
		return nil, e.denyCreate(ctx, buyer, input, ErrNoMilestones)
	}
	total := new(big.Int)
	parts := make([]*Milestone, 0, len(milestones))
	for _, m := range milestones {
		if !ledger.IsPositive(m.Amount) {
			return nil, e.denyCreate(ctx, buyer, input, ErrInvalidAmount)
		}
		total.Add(total, m.Amount)
		parts = append(parts, &Milestone{
			Description: m.Description,
			Amount:      new(big.Int).Set(m.Amount),
		})
	}
	input.Amount = total
	return e.create(ctx, buyer, input, parts)
}

func (e *Engine) create(ctx context.Context, buyer string, input CreateEscrowInput, milestones []*Milestone) (*Escrow, error) {
	now := e.clock.Now()
	if buyer == "" || input.Seller == "" || input.Seller == buyer {
		return nil, e.denyCreate(ctx, buyer, input,
			xerrors.New(xerrors.CodeInvalidArgument, "buyer 与 seller 必须是不同的非空地址"))
	}
	if input.Token == "" {
		return nil, e.denyCreate(ctx, buyer, input,
			xerrors.New(xerrors.CodeInvalidArgument, "token 不能为空"))
	}
	if !ledger.IsPositive(input.Amount) {
		return nil, e.denyCreate(ctx, buyer, input, ErrInvalidAmount)
	}
	if input.Amount.Cmp(e.cfg.MinEscrowAmount) < 0 {
		return nil, e.denyCreate(ctx, buyer, input, ErrAmountBelowMinimum)
	}
	if input.Deadline <= now.Unix() || input.Deadline > now.Add(e.cfg.MaxDeadline).Unix() {
		return nil, e.denyCreate(ctx, buyer, input, ErrInvalidDeadline)
	}

	escrow := &Escrow{
		ID:            uuid.NewString(),
		Buyer:         buyer,
		Seller:        input.Seller,
		Token:         input.Token,
		Amount:        new(big.Int).Set(input.Amount),
		Fee:           feeFor(input.Amount, e.cfg.FeeBps),
		Deadline:      input.Deadline,
		ConditionHash: input.ConditionHash,
		Description:   input.Description,
		State:         StateCreated,
		Milestones:    milestones,
		CreatedAt:     now.Unix(),
		UpdatedAt:     now.Unix(),
	}
	if err := e.store.Create(ctx, escrow); err != nil {
		return nil, e.denyCreate(ctx, buyer, input, err)
	}

	metrics.ObserveDecision("create_escrow", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventEscrowCreated, escrow.ID, now).
		WithActor(buyer).
		WithToken(escrow.Token).
		WithAmount("amount", escrow.Amount).
		WithAmount("fee", escrow.Fee))
	return escrow, nil
}

// GetEscrow 读取托管单。
func (e *Engine) GetEscrow(ctx context.Context, id string) (*Escrow, error) {
	return e.store.Get(ctx, id)
}

// FundEscrow 由买方在截止时间前注资：本金加手续费一次性划入
// 保管账户。余额不足时整笔失败，不产生部分注资。
func (e *Engine) FundEscrow(ctx context.Context, actor, id string) error {
	return e.mutate(ctx, "fund_escrow", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if !canTransition(escrow.State, StateFunded) {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Buyer {
			return audit.Event{}, ErrUnauthorized
		}
		if now.Unix() >= escrow.Deadline {
			return audit.Event{}, ErrDeadlinePassed
		}

		outlay := new(big.Int).Add(escrow.Amount, escrow.Fee)
		if err := e.checkAvailable(ctx, escrow.Buyer, escrow.Token, outlay); err != nil {
			return audit.Event{}, err
		}
		if err := e.ledger.Transfer(ctx, escrow.Token, escrow.Buyer, escrow.CustodyAccount(), outlay); err != nil {
			return audit.Event{}, err
		}
		escrow.State = StateFunded
		return audit.NewEvent(audit.EventEscrowFunded, escrow.ID, now).
			WithActor(actor).
			WithToken(escrow.Token).
			WithAmount("funded", outlay), nil
	}, func(escrow *Escrow) {
		// 写回失败时把注资退回买方，保持零副作用。
		outlay := new(big.Int).Add(escrow.Amount, escrow.Fee)
		e.reverse(ctx, escrow.Token, escrow.CustodyAccount(), escrow.Buyer, outlay)
	})
}

// ConfirmDelivery 由卖方声明已交付。只记录标志，不迁移状态，
// 放款始终由买方或仲裁方驱动。
func (e *Engine) ConfirmDelivery(ctx context.Context, actor, id string) error {
	return e.mutate(ctx, "confirm_delivery", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if escrow.State != StateFunded {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Seller {
			return audit.Event{}, ErrUnauthorized
		}
		escrow.Delivered = true
		return audit.NewEvent(audit.EventEscrowDelivered, escrow.ID, now).
			WithActor(actor), nil
	}, nil)
}

// ApproveRelease 由买方对非分期托管单直接放款：卖方拿足额本金，
// 手续费入账费率账户。
func (e *Engine) ApproveRelease(ctx context.Context, actor, id string) error {
	return e.mutate(ctx, "approve_release", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if !canTransition(escrow.State, StateReleased) || escrow.State != StateFunded {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Buyer {
			return audit.Event{}, ErrUnauthorized
		}
		if escrow.HasMilestones() {
			return audit.Event{}, ErrMilestoneEscrow
		}

		if err := e.disburse(ctx, escrow,
			payout{to: escrow.Seller, amount: escrow.Amount},
			payout{to: e.cfg.FeeRecipient, amount: escrow.Fee},
		); err != nil {
			return audit.Event{}, err
		}
		escrow.State = StateReleased
		return audit.NewEvent(audit.EventEscrowReleased, escrow.ID, now).
			WithActor(actor).
			WithToken(escrow.Token).
			WithAmount("seller", escrow.Amount).
			WithAmount("fee", escrow.Fee), nil
	}, func(escrow *Escrow) {
		e.reverse(ctx, escrow.Token, escrow.Seller, escrow.CustodyAccount(), escrow.Amount)
		e.reverse(ctx, escrow.Token, e.cfg.FeeRecipient, escrow.CustodyAccount(), escrow.Fee)
	})
}

// CompleteMilestone 由卖方标记某个分期已交付，不动账。
func (e *Engine) CompleteMilestone(ctx context.Context, actor, id string, index int) error {
	return e.mutate(ctx, "complete_milestone", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if escrow.State != StateFunded {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Seller {
			return audit.Event{}, ErrUnauthorized
		}
		if index < 0 || index >= len(escrow.Milestones) {
			return audit.Event{}, ErrMilestoneNotFound
		}
		milestone := escrow.Milestones[index]
		if milestone.Completed {
			return audit.Event{}, ErrMilestoneCompleted
		}
		milestone.Completed = true
		return audit.NewEvent(audit.EventEscrowDelivered, escrow.ID, now).
			WithActor(actor).
			WithAmount("milestone", milestone.Amount), nil
	}, nil)
}

// ReleaseMilestone 由买方对已交付的分期放款。最后一个分期放款
// 时一并结算手续费并使整单进入 Released,手续费只收一次。
func (e *Engine) ReleaseMilestone(ctx context.Context, actor, id string, index int) error {
	return e.mutate(ctx, "release_milestone", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if escrow.State != StateFunded {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Buyer {
			return audit.Event{}, ErrUnauthorized
		}
		if index < 0 || index >= len(escrow.Milestones) {
			return audit.Event{}, ErrMilestoneNotFound
		}
		milestone := escrow.Milestones[index]
		if milestone.Released {
			return audit.Event{}, ErrMilestoneReleased
		}
		if !milestone.Completed {
			return audit.Event{}, ErrMilestoneNotCompleted
		}

		milestone.Released = true
		final := escrow.allReleased()
		payouts := []payout{{to: escrow.Seller, amount: milestone.Amount}}
		if final {
			payouts = append(payouts, payout{to: e.cfg.FeeRecipient, amount: escrow.Fee})
		}
		if err := e.disburse(ctx, escrow, payouts...); err != nil {
			milestone.Released = false
			return audit.Event{}, err
		}
		event := audit.NewEvent(audit.EventEscrowReleased, escrow.ID, now).
			WithActor(actor).
			WithToken(escrow.Token).
			WithAmount("milestone", milestone.Amount)
		if final {
			escrow.State = StateReleased
			event = event.WithAmount("fee", escrow.Fee)
		}
		return event, nil
	}, func(escrow *Escrow) {
		milestone := escrow.Milestones[index]
		e.reverse(ctx, escrow.Token, escrow.Seller, escrow.CustodyAccount(), milestone.Amount)
		if escrow.State == StateReleased {
			e.reverse(ctx, escrow.Token, e.cfg.FeeRecipient, escrow.CustodyAccount(), escrow.Fee)
		}
	})
}

// RaiseDispute 由买方或卖方对已注资的托管单发起争议,冻结后续
// 的常规放款路径,等待仲裁。
func (e *Engine) RaiseDispute(ctx context.Context, actor, id string) error {
	return e.mutate(ctx, "raise_dispute", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if !canTransition(escrow.State, StateDisputed) {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Buyer && actor != escrow.Seller {
			return audit.Event{}, ErrUnauthorized
		}
		escrow.State = StateDisputed
		return audit.NewEvent(audit.EventEscrowDisputed, escrow.ID, now).
			WithActor(actor), nil
	}, nil)
}

// ResolveDispute 由仲裁方按比例切分尚未放款的本金：买方拿
// floor(remaining * buyerPercent / 100)，卖方拿余下部分，手续费
// 照常入账。百分之百归买方同样建模为 Released 迁移。
func (e *Engine) ResolveDispute(ctx context.Context, actor, id string, buyerPercent int64) error {
	return e.mutate(ctx, "resolve_dispute", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if !canTransition(escrow.State, StateReleased) || escrow.State != StateDisputed {
			return audit.Event{}, ErrInvalidState
		}
		if e.cfg.Arbiter == "" || actor != e.cfg.Arbiter {
			return audit.Event{}, ErrUnauthorized
		}
		if buyerPercent < 0 || buyerPercent > 100 {
			return audit.Event{}, ErrInvalidPercent
		}

		remaining := escrow.Remaining()
		buyerAmount := new(big.Int).Mul(remaining, big.NewInt(buyerPercent))
		buyerAmount.Quo(buyerAmount, big.NewInt(100))
		sellerAmount := new(big.Int).Sub(remaining, buyerAmount)

		if err := e.disburse(ctx, escrow,
			payout{to: escrow.Buyer, amount: buyerAmount},
			payout{to: escrow.Seller, amount: sellerAmount},
			payout{to: e.cfg.FeeRecipient, amount: escrow.Fee},
		); err != nil {
			return audit.Event{}, err
		}
		escrow.State = StateReleased
		return audit.NewEvent(audit.EventEscrowReleased, escrow.ID, now).
			WithActor(actor).
			WithToken(escrow.Token).
			WithAmount("buyer", buyerAmount).
			WithAmount("seller", sellerAmount).
			WithAmount("fee", escrow.Fee), nil
	}, func(escrow *Escrow) {
		remaining := escrow.Remaining()
		buyerAmount := new(big.Int).Mul(remaining, big.NewInt(buyerPercent))
		buyerAmount.Quo(buyerAmount, big.NewInt(100))
		e.reverse(ctx, escrow.Token, escrow.Buyer, escrow.CustodyAccount(), buyerAmount)
		e.reverse(ctx, escrow.Token, escrow.Seller, escrow.CustodyAccount(), new(big.Int).Sub(remaining, buyerAmount))
		e.reverse(ctx, escrow.Token, e.cfg.FeeRecipient, escrow.CustodyAccount(), escrow.Fee)
	})
}

// CancelEscrow 由买方在注资前取消,不动账。
func (e *Engine) CancelEscrow(ctx context.Context, actor, id string) error {
	return e.mutate(ctx, "cancel_escrow", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if !canTransition(escrow.State, StateExpired) {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Buyer {
			return audit.Event{}, ErrUnauthorized
		}
		escrow.State = StateExpired
		return audit.NewEvent(audit.EventEscrowCancelled, escrow.ID, now).
			WithActor(actor), nil
	}, nil)
}

// Refund 在截止时间过后、交付未确认且无争议时，把保管账户内的
// 剩余本金与全部手续费退还买方。过期不自动退款，必须显式调用。
func (e *Engine) Refund(ctx context.Context, actor, id string) error {
	return e.mutate(ctx, "refund_escrow", id, func(escrow *Escrow, now time.Time) (audit.Event, error) {
		if !canTransition(escrow.State, StateRefunded) || escrow.State != StateFunded {
			return audit.Event{}, ErrInvalidState
		}
		if actor != escrow.Buyer {
			return audit.Event{}, ErrUnauthorized
		}
		if now.Unix() < escrow.Deadline {
			return audit.Event{}, ErrDeadlineNotReached
		}
		if escrow.Delivered || e.anyMilestoneCompleted(escrow) {
			return audit.Event{}, ErrDeliveryConfirmed
		}

		refund := new(big.Int).Add(escrow.Remaining(), escrow.Fee)
		if err := e.ledger.Transfer(ctx, escrow.Token, escrow.CustodyAccount(), escrow.Buyer, refund); err != nil {
			return audit.Event{}, err
		}
		escrow.State = StateRefunded
		return audit.NewEvent(audit.EventEscrowRefunded, escrow.ID, now).
			WithActor(actor).
			WithToken(escrow.Token).
			WithAmount("refunded", refund), nil
	}, func(escrow *Escrow) {
		refund := new(big.Int).Add(escrow.Remaining(), escrow.Fee)
		e.reverse(ctx, escrow.Token, escrow.Buyer, escrow.CustodyAccount(), refund)
	})
}

func (e *Engine) anyMilestoneCompleted(escrow *Escrow) bool {
	for _, milestone := range escrow.Milestones {
		if milestone.Completed {
			return true
		}
	}
	return false
}

// mutate 统一托管单的读-改-写路径：取锁、读取、执行、写回、
// 审计。apply 返回成功事件;compensate 在写回失败时逆转已生效
// 的转账,保证失败的操作零副作用。
func (e *Engine) mutate(ctx context.Context, op, id string, apply func(escrow *Escrow, now time.Time) (audit.Event, error), compensate func(escrow *Escrow)) error {
	lock := e.escrowLock(id)
	lock.Lock()
	defer lock.Unlock()

	escrow, err := e.store.Get(ctx, id)
	if err != nil {
		return e.deny(ctx, op, id, "", err)
	}
	now := e.clock.Now()
	event, err := apply(escrow, now)
	if err != nil {
		return e.deny(ctx, op, id, escrow.Token, err)
	}

	escrow.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, escrow); err != nil {
		if compensate != nil {
			compensate(escrow)
		}
		return e.deny(ctx, op, id, escrow.Token, err)
	}

	metrics.ObserveDecision(op, "OK")
	e.emit(ctx, event)
	return nil
}

// payout 是一次从保管账户出账的分配。
type payout struct {
	to     string
	amount *big.Int
}

// disburse 依次执行出账,任一笔失败时逆转已执行的部分。
func (e *Engine) disburse(ctx context.Context, escrow *Escrow, payouts ...payout) error {
	applied := make([]payout, 0, len(payouts))
	for _, p := range payouts {
		if p.amount == nil || p.amount.Sign() == 0 {
			continue
		}
		if err := e.ledger.Transfer(ctx, escrow.Token, escrow.CustodyAccount(), p.to, p.amount); err != nil {
			for _, done := range applied {
				e.reverse(ctx, escrow.Token, done.to, escrow.CustodyAccount(), done.amount)
			}
			return err
		}
		applied = append(applied, p)
	}
	return nil
}

// reverse 执行补偿转账,失败只能记录并告警,等待人工对账。
// checkAvailable 保证注资只动用未被外部冻结占用的余额。
func (e *Engine) checkAvailable(ctx context.Context, account, token string, outlay *big.Int) error {
	if e.reservations == nil {
		return nil
	}
	reserved, err := e.reservations.Reserved(ctx, account, token)
	if err != nil {
		return err
	}
	if reserved == nil || reserved.Sign() <= 0 {
		return nil
	}
	balance, err := e.ledger.Balance(ctx, account, token)
	if err != nil {
		return err
	}
	if outlay.Cmp(new(big.Int).Sub(balance, reserved)) > 0 {
		return ErrInsufficientAvailable
	}
	return nil
}

func (e *Engine) reverse(ctx context.Context, token, from, to string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	if err := e.ledger.Transfer(ctx, token, from, to, amount); err != nil {
		e.log().Error("补偿转账失败，账本可能不一致",
			slog.String("token", token),
			slog.String("from", from),
			slog.String("to", to),
			slog.String("amount", amount.String()),
			slog.Any("error", err))
		if e.alerter != nil {
			_ = e.alerter.Notify(ctx, alerting.FromError(err, from, "escrow_compensation", ""))
		}
	}
}

func (e *Engine) escrowLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// denyCreate 处理创建阶段的拒绝,此时托管单尚无 id。
func (e *Engine) denyCreate(ctx context.Context, buyer string, input CreateEscrowInput, err error) error {
	metrics.ObserveDecision("create_escrow", string(xerrors.CodeOf(err)))
	event := audit.NewEvent(audit.EventEscrowDenied, "", e.clock.Now()).
		WithActor(buyer).
		WithToken(input.Token).
		WithReason(xerrors.CodeOf(err))
	if input.Amount != nil {
		event = event.WithAmount("amount", input.Amount)
	}
	e.emit(ctx, event)
	return err
}

// deny 统一处理拒绝路径：计数、审计、按需告警。
func (e *Engine) deny(ctx context.Context, op, id, token string, err error) error {
	metrics.ObserveDecision(op, string(xerrors.CodeOf(err)))
	e.emit(ctx, audit.NewEvent(audit.EventEscrowDenied, id, e.clock.Now()).
		WithToken(token).
		WithReason(xerrors.CodeOf(err)))
	if xerrors.ShouldAlert(err) && e.alerter != nil {
		_ = e.alerter.Notify(ctx, alerting.FromError(err, id, op, ""))
	}
	return err
}

// emit 发送审计事件，失败只记录日志，不影响决策结果。
func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(ctx, event); err != nil {
		e.log().Error("审计事件发送失败",
			slog.String("event_type", string(event.Type)),
			slog.String("subject_id", event.SubjectID),
			slog.Any("error", err))
	}
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return logger.Named("escrow")
}
