package policy

import (
	"context"
	"errors"
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

// Config 描述策略引擎的全局参数。
type Config struct {
	// MaxHoldDuration 是单笔冻结允许的最长时效。
	MaxHoldDuration time.Duration
	// RoleTimelock 是控制权移交的强制等待时长。
	RoleTimelock time.Duration
}

// applyDefaults 在未配置时填充默认值。
func (c *Config) applyDefaults() {
	if c.MaxHoldDuration <= 0 {
		c.MaxHoldDuration = 7 * 24 * time.Hour
	}
	if c.RoleTimelock <= 0 {
		c.RoleTimelock = 48 * time.Hour
	}
}

// Engine 组合日窗口、商户与代币门控、单笔/当日上限、暂停与应急
// 恢复，对每一条资金指令做出允许或拒绝的决策。所有读-改-写都在
// 每个钱包各自的互斥锁内完成：两个并发的先检查后扣减正是这套
// 引擎要消灭的双花缺陷。
type Engine struct {
	store   Store
	ledger  ledger.Ledger
	sink    audit.Sink
	clock   clock.Clock
	alerter alerting.Dispatcher
	logger  *slog.Logger
	cfg     Config

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

// NewEngine 构造策略引擎。
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

// CreateSubjectInput 描述开户参数。
type CreateSubjectInput struct {
	ID         string
	Owner      string
	Controller string
	Recovery   string
	LimitPerTx *big.Int
	DailyLimit *big.Int
	CoSign     *CoSignTier
}

// CreateSubject 在开户阶段登记钱包策略记录。
func (e *Engine) CreateSubject(ctx context.Context, input CreateSubjectInput) (*Subject, error) {
	if input.Owner == "" || input.Controller == "" || input.Recovery == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "owner、controller、recovery 不能为空")
	}
	if !ledger.IsPositive(input.LimitPerTx) || !ledger.IsPositive(input.DailyLimit) {
		return nil, ErrInvalidAmount
	}
	if err := validateCoSign(input.CoSign, input.LimitPerTx, input.DailyLimit); err != nil {
		return nil, err
	}
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.clock.Now()
	subject := &Subject{
		ID:         id,
		Owner:      input.Owner,
		Controller: input.Controller,
		Recovery:   input.Recovery,
		LimitPerTx: new(big.Int).Set(input.LimitPerTx),
		DailyLimit: new(big.Int).Set(input.DailyLimit),
		Spend:      NewTimeWindowAccumulator(now),
		Merchants:  NewMerchantGate(),
		Tokens:     NewTokenGate(),
		CoSign:     input.CoSign.clone(),
		Holds:      make(map[string]*Hold),
		Held:       make(map[string]*big.Int),
		CreatedAt:  now.Unix(),
		UpdatedAt:  now.Unix(),
	}
	if err := e.store.Create(ctx, subject); err != nil {
		return nil, err
	}
	e.emit(ctx, audit.NewEvent(audit.EventAdminChanged, id, now).
		WithActor(input.Controller).
		WithReason("SUBJECT_CREATED"))
	return subject.Clone(), nil
}

// GetSubject 返回钱包策略记录的快照。
func (e *Engine) GetSubject(ctx context.Context, id string) (*Subject, error) {
	return e.store.Get(ctx, id)
}

// Reserved 返回钱包在某代币下被活动冻结占用的总额，供共享同一
// 账本的引擎把冻结计入不可用余额。非策略账户视为零。
func (e *Engine) Reserved(ctx context.Context, account, token string) (*big.Int, error) {
	subject, err := e.store.Get(ctx, account)
	if err != nil {
		if errors.Is(err, ErrSubjectNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return subject.HeldTotal(token), nil
}

// Decision 是一次被接受的支付决策的结果快照。
type Decision struct {
	SubjectID      string
	SpentToday     *big.Int
	DailyRemaining *big.Int
}

// Authorize 依固定顺序评估一条支付指令，全部通过后原子地更新
// 当日累计并完成划转。任何一步失败都不保留副作用。
func (e *Engine) Authorize(ctx context.Context, actor, subjectID, merchant, token string, amount *big.Int) (*Decision, error) {
	return e.authorize(ctx, actor, subjectID, merchant, token, amount, false)
}

// AuthorizeElevated 走控制方授权的共签提升档位，仅对配置了
// CoSign 档位的策略模块开放。
func (e *Engine) AuthorizeElevated(ctx context.Context, actor, subjectID, merchant, token string, amount *big.Int) (*Decision, error) {
	return e.authorize(ctx, actor, subjectID, merchant, token, amount, true)
}

func (e *Engine) authorize(ctx context.Context, actor, subjectID, merchant, token string, amount *big.Int, elevated bool) (*Decision, error) {
	op := "authorize"
	if elevated {
		op = "authorize_elevated"
	}
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, err)
	}
	now := e.clock.Now()
	subject.Spend.Rollover(now)

	limitPerTx := subject.LimitPerTx
	dailyLimit := subject.DailyLimit
	if elevated {
		if subject.CoSign == nil {
			return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrUnauthorized)
		}
		limitPerTx = subject.CoSign.LimitPerTx
		dailyLimit = subject.CoSign.DailyLimit
	}

	// 评估顺序固定且短路，通过之前不做任何修改。
	switch {
	case subject.Paused:
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrPaused)
	case elevated && !subject.IsController(actor):
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrUnauthorized)
	case !elevated && !subject.IsOwnerOrController(actor):
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrUnauthorized)
	case !ledger.IsPositive(amount):
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrInvalidAmount)
	}
	if err := subject.Tokens.Check(token); err != nil {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, err)
	}
	if err := subject.Merchants.Check(merchant); err != nil {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, err)
	}
	if amount.Cmp(limitPerTx) > 0 {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrPerTxExceeded)
	}
	if subject.Spend.Projected(amount).Cmp(dailyLimit) > 0 {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrDailyExceeded)
	}
	// 只能动用未被冻结占用的余额，冻结部分留给后续捕获。
	balance, err := e.ledger.Balance(ctx, subjectID, token)
	if err != nil {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, err)
	}
	available := new(big.Int).Sub(balance, subject.HeldTotal(token))
	if amount.Cmp(available) > 0 {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, ErrInsufficientAvailable)
	}

	// 提交：划转与当日累计必须作为一个原子单元生效。
	if err := e.ledger.Transfer(ctx, token, subjectID, merchant, amount); err != nil {
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, err)
	}
	subject.Spend.Accrue(amount)
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		// 持久化失败时回冲划转，保证零部分生效。
		_ = e.ledger.Transfer(ctx, token, merchant, subjectID, amount)
		return nil, e.deny(ctx, op, audit.EventAuthorizeDenied, subjectID, actor, token, amount, err)
	}

	metrics.ObserveDecision(op, "OK")
	e.emit(ctx, audit.NewEvent(audit.EventAuthorizeAccepted, subjectID, now).
		WithActor(actor).
		WithToken(token).
		WithAmount("amount", amount).
		WithAmount("spent_today", subject.Spend.Spent))
	return &Decision{
		SubjectID:      subjectID,
		SpentToday:     new(big.Int).Set(subject.Spend.Spent),
		DailyRemaining: new(big.Int).Sub(dailyLimit, subject.Spend.Spent),
	}, nil
}

// SetLimitsInput 描述上限调整。档位字段为 nil 时保持原值。
type SetLimitsInput struct {
	LimitPerTx       *big.Int
	DailyLimit       *big.Int
	CoSignLimitPerTx *big.Int
	CoSignDailyLimit *big.Int
}

// SetLimits 调整普通档位与共签档位，仅控制方可调用。共签档位
// 低于普通档位的配置一律拒绝。
func (e *Engine) SetLimits(ctx context.Context, actor, subjectID string, input SetLimitsInput) error {
	return e.adminMutate(ctx, "set_limits", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		limitPerTx := subject.LimitPerTx
		dailyLimit := subject.DailyLimit
		if input.LimitPerTx != nil {
			if !ledger.IsPositive(input.LimitPerTx) {
				return ErrInvalidAmount
			}
			limitPerTx = new(big.Int).Set(input.LimitPerTx)
		}
		if input.DailyLimit != nil {
			if !ledger.IsPositive(input.DailyLimit) {
				return ErrInvalidAmount
			}
			dailyLimit = new(big.Int).Set(input.DailyLimit)
		}
		coSign := subject.CoSign.clone()
		if input.CoSignLimitPerTx != nil || input.CoSignDailyLimit != nil {
			if coSign == nil {
				coSign = &CoSignTier{LimitPerTx: new(big.Int).Set(limitPerTx), DailyLimit: new(big.Int).Set(dailyLimit)}
			}
			if input.CoSignLimitPerTx != nil {
				coSign.LimitPerTx = new(big.Int).Set(input.CoSignLimitPerTx)
			}
			if input.CoSignDailyLimit != nil {
				coSign.DailyLimit = new(big.Int).Set(input.CoSignDailyLimit)
			}
		}
		if err := validateCoSign(coSign, limitPerTx, dailyLimit); err != nil {
			return err
		}
		subject.LimitPerTx = limitPerTx
		subject.DailyLimit = dailyLimit
		subject.CoSign = coSign
		return nil
	})
}

// AllowMerchant 把商户加入允许名单，同时清除其拒绝记录。
func (e *Engine) AllowMerchant(ctx context.Context, actor, subjectID, merchant string) error {
	return e.adminMutate(ctx, "allow_merchant", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		if merchant == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "merchant 不能为空")
		}
		subject.Merchants.Allow(merchant)
		return nil
	})
}

// DenyMerchant 把商户加入拒绝名单，无需先移除既有记录。
func (e *Engine) DenyMerchant(ctx context.Context, actor, subjectID, merchant string) error {
	return e.adminMutate(ctx, "deny_merchant", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		if merchant == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "merchant 不能为空")
		}
		subject.Merchants.Deny(merchant)
		return nil
	})
}

// RemoveMerchant 把商户从两个名单中删除。
func (e *Engine) RemoveMerchant(ctx context.Context, actor, subjectID, merchant string) error {
	return e.adminMutate(ctx, "remove_merchant", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		subject.Merchants.Remove(merchant)
		return nil
	})
}

// SetAllowlistMode 切换商户门控模式。
func (e *Engine) SetAllowlistMode(ctx context.Context, actor, subjectID string, enabled bool) error {
	return e.adminMutate(ctx, "set_allowlist_mode", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		if enabled {
			subject.Merchants.Mode = MerchantModeAllowlist
		} else {
			subject.Merchants.Mode = MerchantModeDenylist
		}
		return nil
	})
}

// AllowToken 把代币加入允许名单。
func (e *Engine) AllowToken(ctx context.Context, actor, subjectID, token string) error {
	return e.adminMutate(ctx, "allow_token", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		if token == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "token 不能为空")
		}
		subject.Tokens.Allow(token)
		return nil
	})
}

// RemoveToken 把代币移出允许名单。
func (e *Engine) RemoveToken(ctx context.Context, actor, subjectID, token string) error {
	return e.adminMutate(ctx, "remove_token", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		subject.Tokens.Remove(token)
		return nil
	})
}

// SetTokenEnforcement 切换代币允许名单开关。
func (e *Engine) SetTokenEnforcement(ctx context.Context, actor, subjectID string, enforced bool) error {
	return e.adminMutate(ctx, "set_token_enforcement", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		subject.Tokens.Enforced = enforced
		return nil
	})
}

// Pause 暂停钱包。持有者或控制方都可以触发，快速失败。
func (e *Engine) Pause(ctx context.Context, actor, subjectID string) error {
	return e.adminMutate(ctx, "pause", actor, subjectID, func(subject *Subject) error {
		if !subject.IsOwnerOrController(actor) {
			return ErrUnauthorized
		}
		subject.Paused = true
		return nil
	})
}

// Unpause 恢复钱包。只有受信的控制方可以重启，安全失败。
func (e *Engine) Unpause(ctx context.Context, actor, subjectID string) error {
	return e.adminMutate(ctx, "unpause", actor, subjectID, func(subject *Subject) error {
		if !subject.IsController(actor) {
			return ErrUnauthorized
		}
		if !subject.Paused {
			return ErrNotPaused
		}
		subject.Paused = false
		return nil
	})
}

// EmergencyWithdraw 把指定代币的全部余额撤回恢复地址。只有恢复
// 地址可以调用，并且在暂停状态下也必须成功。撤回前先作废该代币
// 下所有未终结的冻结。
func (e *Engine) EmergencyWithdraw(ctx context.Context, actor, subjectID, token string) (*big.Int, error) {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return nil, e.deny(ctx, "emergency_withdraw", audit.EventAdminDenied, subjectID, actor, token, nil, err)
	}
	if actor == "" || actor != subject.Recovery {
		return nil, e.deny(ctx, "emergency_withdraw", audit.EventAdminDenied, subjectID, actor, token, nil, ErrUnauthorized)
	}
	now := e.clock.Now()
	for _, hold := range subject.Holds {
		if hold.Status == HoldStatusActive && hold.Token == token {
			hold.Status = HoldStatusVoided
			subject.release(token, hold.Amount)
		}
	}
	balance, err := e.ledger.Balance(ctx, subjectID, token)
	if err != nil {
		return nil, e.deny(ctx, "emergency_withdraw", audit.EventAdminDenied, subjectID, actor, token, nil, err)
	}
	if balance.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, token, subjectID, subject.Recovery, balance); err != nil {
			return nil, e.deny(ctx, "emergency_withdraw", audit.EventAdminDenied, subjectID, actor, token, nil, err)
		}
	}
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		if balance.Sign() > 0 {
			_ = e.ledger.Transfer(ctx, token, subject.Recovery, subjectID, balance)
		}
		return nil, e.deny(ctx, "emergency_withdraw", audit.EventAdminDenied, subjectID, actor, token, nil, err)
	}
	metrics.ObserveDecision("emergency_withdraw", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventAdminChanged, subjectID, now).
		WithActor(actor).
		WithToken(token).
		WithAmount("amount", balance).
		WithReason("EMERGENCY_WITHDRAW"))
	return balance, nil
}

// adminMutate 以每钱包锁保护的读-改-写执行一次管理操作，失败时
// 不保留任何副作用。
func (e *Engine) adminMutate(ctx context.Context, op, actor, subjectID string, fn func(*Subject) error) error {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return e.deny(ctx, op, audit.EventAdminDenied, subjectID, actor, "", nil, err)
	}
	now := e.clock.Now()
	subject.Spend.Rollover(now)
	if err := fn(subject); err != nil {
		return e.deny(ctx, op, audit.EventAdminDenied, subjectID, actor, "", nil, err)
	}
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		return e.deny(ctx, op, audit.EventAdminDenied, subjectID, actor, "", nil, err)
	}
	metrics.ObserveDecision(op, "OK")
	e.emit(ctx, audit.NewEvent(audit.EventAdminChanged, subjectID, now).
		WithActor(actor).
		WithOperation(op))
	return nil
}

func validateCoSign(tier *CoSignTier, limitPerTx, dailyLimit *big.Int) error {
	if tier == nil {
		return nil
	}
	if !ledger.IsPositive(tier.LimitPerTx) || !ledger.IsPositive(tier.DailyLimit) {
		return ErrInvalidAmount
	}
	if tier.LimitPerTx.Cmp(limitPerTx) < 0 || tier.DailyLimit.Cmp(dailyLimit) < 0 {
		return ErrInvalidLimits
	}
	return nil
}

// subjectLock 返回钱包对应的互斥锁。
func (e *Engine) subjectLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// deny 统一处理拒绝路径：计数、审计、按需告警。
func (e *Engine) deny(ctx context.Context, op string, eventType audit.EventType, subjectID, actor, token string, amount *big.Int, err error) error {
	metrics.ObserveDecision(op, string(xerrors.CodeOf(err)))
	event := audit.NewEvent(eventType, subjectID, e.clock.Now()).
		WithActor(actor).
		WithToken(token).
		WithReason(xerrors.CodeOf(err))
	if amount != nil {
		event = event.WithAmount("amount", amount)
	}
	e.emit(ctx, event)
	if xerrors.ShouldAlert(err) && e.alerter != nil {
		_ = e.alerter.Notify(ctx, alerting.FromError(err, subjectID, op, actor))
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
	return logger.Named("policy")
}
