package escrow

import (
	xerrors "AgentVault-Core/internal/errors"
)

// 托管引擎对外暴露的 reason code。
const (
	CodeEscrowNotFound        xerrors.Code = "ESCROW_NOT_FOUND"
	CodeEscrowExists          xerrors.Code = "ESCROW_EXISTS"
	CodeInvalidState          xerrors.Code = "INVALID_STATE"
	CodeAmountBelowMinimum    xerrors.Code = "AMOUNT_BELOW_MINIMUM"
	CodeInvalidDeadline       xerrors.Code = "INVALID_DEADLINE"
	CodeDeadlinePassed        xerrors.Code = "DEADLINE_PASSED"
	CodeDeadlineNotReached    xerrors.Code = "DEADLINE_NOT_REACHED"
	CodeNoMilestones          xerrors.Code = "NO_MILESTONES"
	CodeMilestoneNotFound     xerrors.Code = "MILESTONE_NOT_FOUND"
	CodeMilestoneNotCompleted xerrors.Code = "MILESTONE_NOT_COMPLETED"
	CodeMilestoneCompleted    xerrors.Code = "MILESTONE_ALREADY_COMPLETED"
	CodeMilestoneReleased     xerrors.Code = "MILESTONE_ALREADY_RELEASED"
	CodeMilestoneEscrow       xerrors.Code = "MILESTONE_ESCROW"
	CodeInvalidPercent        xerrors.Code = "INVALID_PERCENT"
	CodeDeliveryConfirmed     xerrors.Code = "DELIVERY_CONFIRMED"
	CodeInsufficientAvail     xerrors.Code = "INSUFFICIENT_AVAILABLE"
)

func init() {
	register := func(code xerrors.Code, message string, kind xerrors.Kind, sev xerrors.Severity, alert bool) {
		xerrors.Register(code, xerrors.Attributes{
			Message:  message,
			Kind:     kind,
			Severity: sev,
			Alert:    alert,
		})
	}
	register(CodeEscrowNotFound, "escrow not found", xerrors.KindNotFound, xerrors.SeverityInfo, false)
	register(CodeEscrowExists, "escrow already exists", xerrors.KindStateConflict, xerrors.SeverityWarning, false)
	register(CodeInvalidState, "escrow is not in a state that permits this transition", xerrors.KindStateConflict, xerrors.SeverityWarning, false)
	register(CodeAmountBelowMinimum, "amount is below the escrow minimum", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeInvalidDeadline, "deadline is in the past or beyond the allowed horizon", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeDeadlinePassed, "escrow deadline has passed", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeDeadlineNotReached, "escrow deadline has not passed yet", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeNoMilestones, "at least one milestone is required", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeMilestoneNotFound, "milestone index is out of range", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeMilestoneNotCompleted, "milestone has not been completed by the seller", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeMilestoneCompleted, "milestone is already completed", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeMilestoneReleased, "milestone is already released", xerrors.KindStateConflict, xerrors.SeverityWarning, true)
	register(CodeMilestoneEscrow, "operation does not apply to a milestone escrow", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeInvalidPercent, "buyer percent must be between 0 and 100", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeDeliveryConfirmed, "delivery has been confirmed", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeInsufficientAvail, "amount exceeds the unreserved balance", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
}

var (
	// ErrEscrowNotFound 表示托管单不存在。
	ErrEscrowNotFound = xerrors.New(CodeEscrowNotFound, "")
	// ErrEscrowExists 表示托管单已被创建。
	ErrEscrowExists = xerrors.New(CodeEscrowExists, "")
	// ErrInvalidState 表示请求的迁移不在状态表内。
	ErrInvalidState = xerrors.New(CodeInvalidState, "")
	// ErrAmountBelowMinimum 表示托管金额低于最低限额。
	ErrAmountBelowMinimum = xerrors.New(CodeAmountBelowMinimum, "")
	// ErrInvalidDeadline 表示截止时间不在允许区间内。
	ErrInvalidDeadline = xerrors.New(CodeInvalidDeadline, "")
	// ErrDeadlinePassed 表示截止时间已过，无法注资。
	ErrDeadlinePassed = xerrors.New(CodeDeadlinePassed, "")
	// ErrDeadlineNotReached 表示截止时间未到，不能退款。
	ErrDeadlineNotReached = xerrors.New(CodeDeadlineNotReached, "")
	// ErrNoMilestones 表示分期托管单缺少分期。
	ErrNoMilestones = xerrors.New(CodeNoMilestones, "")
	// ErrMilestoneNotFound 表示分期序号越界。
	ErrMilestoneNotFound = xerrors.New(CodeMilestoneNotFound, "")
	// ErrMilestoneNotCompleted 表示卖方尚未交付该分期。
	ErrMilestoneNotCompleted = xerrors.New(CodeMilestoneNotCompleted, "")
	// ErrMilestoneCompleted 表示该分期已被标记交付。
	ErrMilestoneCompleted = xerrors.New(CodeMilestoneCompleted, "")
	// ErrMilestoneReleased 表示该分期已放款,绝不二次放款。
	ErrMilestoneReleased = xerrors.New(CodeMilestoneReleased, "")
	// ErrMilestoneEscrow 表示该操作不适用于分期托管单。
	ErrMilestoneEscrow = xerrors.New(CodeMilestoneEscrow, "")
	// ErrInvalidPercent 表示仲裁分成比例越界。
	ErrInvalidPercent = xerrors.New(CodeInvalidPercent, "")
	// ErrDeliveryConfirmed 表示交付已确认，退款被阻止。
	ErrDeliveryConfirmed = xerrors.New(CodeDeliveryConfirmed, "")
	// ErrUnauthorized 表示调用方不具备所需角色。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "")
	// ErrInvalidAmount 表示金额为零或为负。
	ErrInvalidAmount = xerrors.New(xerrors.CodeInvalidArgument, "amount must be positive")
	// ErrInsufficientAvailable 表示注资金额超出买方未被冻结占用的余额。
	ErrInsufficientAvailable = xerrors.New(CodeInsufficientAvail, "")
)
