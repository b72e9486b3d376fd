package policy

import (
	"context"

	"AgentVault-Core/internal/audit"
	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/observability/metrics"
)

// ProposeControllerTransfer 提交两步延时移交的第一步。已有提案
// 在延时中时必须先显式撤销，不允许隐式覆盖。
func (e *Engine) ProposeControllerTransfer(ctx context.Context, actor, subjectID, newController string) error {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return e.deny(ctx, "propose_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, err)
	}
	now := e.clock.Now()
	if !subject.IsController(actor) {
		return e.deny(ctx, "propose_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrUnauthorized)
	}
	if newController == "" || newController == subject.Controller {
		return e.deny(ctx, "propose_transfer", audit.EventRoleDenied, subjectID, actor, "", nil,
			xerrors.New(xerrors.CodeInvalidArgument, "新控制方地址无效"))
	}
	if subject.Pending != nil {
		return e.deny(ctx, "propose_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrTransferPending)
	}

	subject.Pending = &PendingRoleTransfer{Proposed: newController, ProposedAt: now.Unix()}
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		return e.deny(ctx, "propose_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, err)
	}

	metrics.ObserveDecision("propose_transfer", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventRoleProposed, subjectID, now).
		WithActor(actor).
		WithReason("CONTROLLER_TRANSFER_PROPOSED"))
	return nil
}

// ExecuteControllerTransfer 在延时走完后原子地切换控制方并清除
// 提案。旧控制方从此刻起立即失去所有特权操作。
func (e *Engine) ExecuteControllerTransfer(ctx context.Context, actor, subjectID string) error {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return e.deny(ctx, "execute_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, err)
	}
	now := e.clock.Now()
	if !subject.IsController(actor) {
		return e.deny(ctx, "execute_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrUnauthorized)
	}
	if subject.Pending == nil {
		return e.deny(ctx, "execute_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrNoPendingTransfer)
	}
	if !subject.Pending.Ready(now, e.cfg.RoleTimelock) {
		return e.deny(ctx, "execute_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrTimelockActive)
	}

	subject.Controller = subject.Pending.Proposed
	subject.Pending = nil
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		return e.deny(ctx, "execute_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, err)
	}

	metrics.ObserveDecision("execute_transfer", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventRoleExecuted, subjectID, now).
		WithActor(actor).
		WithReason("CONTROLLER_TRANSFERRED"))
	return nil
}

// CancelControllerTransfer 撤销待执行的移交提案。
func (e *Engine) CancelControllerTransfer(ctx context.Context, actor, subjectID string) error {
	lock := e.subjectLock(subjectID)
	lock.Lock()
	defer lock.Unlock()

	subject, err := e.store.Get(ctx, subjectID)
	if err != nil {
		return e.deny(ctx, "cancel_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, err)
	}
	now := e.clock.Now()
	if !subject.IsController(actor) {
		return e.deny(ctx, "cancel_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrUnauthorized)
	}
	if subject.Pending == nil {
		return e.deny(ctx, "cancel_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, ErrNoPendingTransfer)
	}

	subject.Pending = nil
	subject.UpdatedAt = now.Unix()
	if err := e.store.Update(ctx, subject); err != nil {
		return e.deny(ctx, "cancel_transfer", audit.EventRoleDenied, subjectID, actor, "", nil, err)
	}

	metrics.ObserveDecision("cancel_transfer", "OK")
	e.emit(ctx, audit.NewEvent(audit.EventRoleExecuted, subjectID, now).
		WithActor(actor).
		WithReason("CONTROLLER_TRANSFER_CANCELLED"))
	return nil
}
