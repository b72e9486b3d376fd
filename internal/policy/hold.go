package policy

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"AgentVault-Core/internal/audit"
	"AgentVault-Core/internal/ledger"
	"AgentVault-Core/internal/observability/metrics"
)

// CreateHold 预留一笔资金以备将来扣款，不发生划转。冻结总额
// 永远不能超过余额：这里只允许冻结「余额减去既有冻结」的部分。
func (e *Engine) CreateHold(ctx context.Context, actor, subjectID, merchant, token string, amount *big.Int, duration time.Duration) (*Hold, error) {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, err)
	}
	now := e.clock.Now()
	subject.Spend.Rollover(now)

	switch {
	case subject.Paused:
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, ErrPaused)
	case !subject.IsOwnerOrController(actor):
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, ErrUnauthorized)
	case !ledger.IsPositive(amount):
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, ErrInvalidAmount)
	case duration < time.Second || duration > e.cfg.MaxHoldDuration:
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, ErrInvalidHoldDuration)
	}
	balance, err := e.ledger.Balance(ctx, subjectID, token)
	if err != nil {
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, err)
	}
	available := new(big.Int).Sub(balance, subject.HeldTotal(token))
	if amount.Cmp(available) > 0 {
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, ErrInsufficientAvailable)
	}

	hold := &Hold{
		ID:        uuid.NewString(),
		Merchant:  merchant,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(duration).Unix(),
		Status:    HoldStatusActive,
	}
	if subject.Holds == nil {
		subject.Holds = make(map[string]*Hold)
	}
	subject.Holds[hold.ID] = hold
	subject.reserve(token, amount)
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		return nil, e.deny(ctx, "create_hold", audit.EventHoldDenied, subjectID, actor, token, amount, err)
	}

	metrics.ObserveDecision("create_hold", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventHoldCreated, subjectID, now).
		WithActor(actor).
		WithToken(token).
		WithAmount("amount", amount).
		WithAmount("held_total", subject.HeldTotal(token)))
	return hold.clone(), nil
}

// CaptureHold 把冻结中不超过原额的部分划转给商户。无论实际扣款
// 多少，冻结释放的都是原始全额：未扣部分直接回到可用余额，
// 不会再单独划转。已过期的冻结不能扣款。
func (e *Engine) CaptureHold(ctx context.Context, actor, subjectID, holdID string, captureAmount *big.Int) error {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, "", captureAmount, err)
	}
	now := e.clock.Now()
	hold, ok := subject.Holds[holdID]
	if !ok {
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, "", captureAmount, ErrHoldNotFound)
	}
	switch {
	case !subject.IsOwnerOrController(actor):
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, ErrUnauthorized)
	case !canTransition(hold.Status, HoldStatusCaptured):
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, ErrHoldClosed)
	case hold.Expired(now):
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, ErrHoldExpired)
	case !ledger.IsPositive(captureAmount):
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, ErrInvalidAmount)
	case captureAmount.Cmp(hold.Amount) > 0:
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, ErrCaptureExceedsHold)
	}

	if err := e.ledger.Transfer(ctx, hold.Token, subjectID, hold.Merchant, captureAmount); err != nil {
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, err)
	}
	hold.Status = HoldStatusCaptured
	subject.release(hold.Token, hold.Amount)
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		_ = e.ledger.Transfer(ctx, hold.Token, hold.Merchant, subjectID, captureAmount)
		return e.deny(ctx, "capture_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, captureAmount, err)
	}

	metrics.ObserveDecision("capture_hold", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventHoldCaptured, subjectID, now).
		WithActor(actor).
		WithToken(hold.Token).
		WithAmount("captured", captureAmount).
		WithAmount("released", hold.Amount))
	return nil
}

// VoidHold 作废一笔冻结并释放全部预留，不发生划转。过期之后
// 依然允许作废，这是清理过期冻结的唯一途径。
func (e *Engine) VoidHold(ctx context.Context, actor, subjectID, holdID string) error {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return e.deny(ctx, "void_hold", audit.EventHoldDenied, subjectID, actor, "", nil, err)
	}
	now := e.clock.Now()
	hold, ok := subject.Holds[holdID]
	if !ok {
		return e.deny(ctx, "void_hold", audit.EventHoldDenied, subjectID, actor, "", nil, ErrHoldNotFound)
	}
	switch {
	case !subject.IsOwnerOrController(actor):
		return e.deny(ctx, "void_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, nil, ErrUnauthorized)
	case !canTransition(hold.Status, HoldStatusVoided):
		return e.deny(ctx, "void_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, nil, ErrHoldClosed)
	}

	hold.Status = HoldStatusVoided
	subject.release(hold.Token, hold.Amount)
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		return e.deny(ctx, "void_hold", audit.EventHoldDenied, subjectID, actor, hold.Token, nil, err)
	}

	metrics.ObserveDecision("void_hold", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventHoldVoided, subjectID, now).
		WithActor(actor).
		WithToken(hold.Token).
		WithAmount("released", hold.Amount))
	return nil
}
