package policy

import (
	xerrors "AgentVault-Core/internal/errors"
)

// 策略引擎对外暴露的 reason code。上游系统按 code 与 kind 做
// 确定性的分支，而不是解析报错文本。
const (
	CodePaused              xerrors.Code = "PAUSED"
	CodeInvalidAmount       xerrors.Code = "INVALID_AMOUNT"
	CodeTokenNotAllowed     xerrors.Code = "TOKEN_NOT_ALLOWED"
	CodeMerchantDenied      xerrors.Code = "MERCHANT_DENIED"
	CodeMerchantNotAllowed  xerrors.Code = "MERCHANT_NOT_ALLOWED"
	CodePerTxExceeded       xerrors.Code = "PER_TX_EXCEEDED"
	CodeDailyExceeded       xerrors.Code = "DAILY_EXCEEDED"
	CodeSubjectNotFound     xerrors.Code = "SUBJECT_NOT_FOUND"
	CodeSubjectExists       xerrors.Code = "SUBJECT_EXISTS"
	CodeInvalidLimits       xerrors.Code = "INVALID_LIMIT_CONFIG"
	CodeNotPaused           xerrors.Code = "NOT_PAUSED"
	CodeHoldNotFound        xerrors.Code = "HOLD_NOT_FOUND"
	CodeHoldExpired         xerrors.Code = "HOLD_EXPIRED"
	CodeHoldClosed          xerrors.Code = "HOLD_CLOSED"
	CodeInvalidHoldDuration xerrors.Code = "INVALID_HOLD_DURATION"
	CodeCaptureExceedsHold  xerrors.Code = "CAPTURE_EXCEEDS_HOLD"
	CodeInsufficientAvail   xerrors.Code = "INSUFFICIENT_AVAILABLE"
	CodeTimelockActive      xerrors.Code = "TIMELOCK_ACTIVE"
	CodeNoPendingTransfer   xerrors.Code = "NO_PENDING_TRANSFER"
	CodeTransferPending     xerrors.Code = "TRANSFER_PENDING"
	CodeSponsorNotAllowed   xerrors.Code = "SPONSOR_NOT_ALLOWED"
	CodeSponsorCapExceeded  xerrors.Code = "SPONSOR_CAP_EXCEEDED"
	CodeSponsorUnknown      xerrors.Code = "SPONSOR_CONTEXT_UNKNOWN"
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
	register(CodePaused, "subject is paused", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeInvalidAmount, "amount must be positive", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeTokenNotAllowed, "token is not on the allowlist", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeMerchantDenied, "merchant is deny-listed", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeMerchantNotAllowed, "merchant is not on the allowlist", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodePerTxExceeded, "amount exceeds the per-transaction limit", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeDailyExceeded, "amount exceeds the remaining daily limit", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeSubjectNotFound, "subject not found", xerrors.KindNotFound, xerrors.SeverityInfo, false)
	register(CodeSubjectExists, "subject already exists", xerrors.KindStateConflict, xerrors.SeverityWarning, false)
	register(CodeInvalidLimits, "elevated caps must not be below the normal caps", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeNotPaused, "subject is not paused", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeHoldNotFound, "hold not found", xerrors.KindNotFound, xerrors.SeverityInfo, false)
	register(CodeHoldExpired, "hold has expired", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeHoldClosed, "hold is already captured or voided", xerrors.KindStateConflict, xerrors.SeverityWarning, true)
	register(CodeInvalidHoldDuration, "hold duration is out of range", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeCaptureExceedsHold, "capture amount exceeds the hold amount", xerrors.KindValidation, xerrors.SeverityInfo, false)
	register(CodeInsufficientAvail, "amount exceeds the unreserved balance", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeTimelockActive, "role transfer timelock has not elapsed", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeNoPendingTransfer, "no pending role transfer", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeTransferPending, "a role transfer is already pending", xerrors.KindStateConflict, xerrors.SeverityInfo, false)
	register(CodeSponsorNotAllowed, "wallet is not sponsored", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeSponsorCapExceeded, "requested gas exceeds the remaining daily cap", xerrors.KindPolicyDenial, xerrors.SeverityInfo, false)
	register(CodeSponsorUnknown, "sponsorship context is unknown or already settled", xerrors.KindStateConflict, xerrors.SeverityWarning, true)
}

var (
	// ErrPaused 表示钱包处于暂停状态。
	ErrPaused = xerrors.New(CodePaused, "")
	// ErrUnauthorized 表示调用方不具备所需角色。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "")
	// ErrInvalidAmount 表示金额为零或为负。
	ErrInvalidAmount = xerrors.New(CodeInvalidAmount, "")
	// ErrTokenNotAllowed 表示代币未被列入允许名单。
	ErrTokenNotAllowed = xerrors.New(CodeTokenNotAllowed, "")
	// ErrMerchantDenied 表示商户在拒绝名单内。
	ErrMerchantDenied = xerrors.New(CodeMerchantDenied, "")
	// ErrMerchantNotAllowed 表示允许名单模式下商户未被允许。
	ErrMerchantNotAllowed = xerrors.New(CodeMerchantNotAllowed, "")
	// ErrPerTxExceeded 表示金额超过单笔上限。
	ErrPerTxExceeded = xerrors.New(CodePerTxExceeded, "")
	// ErrDailyExceeded 表示金额超过当日剩余额度。
	ErrDailyExceeded = xerrors.New(CodeDailyExceeded, "")
	// ErrSubjectNotFound 表示钱包不存在。
	ErrSubjectNotFound = xerrors.New(CodeSubjectNotFound, "")
	// ErrSubjectExists 表示钱包已被创建。
	ErrSubjectExists = xerrors.New(CodeSubjectExists, "")
	// ErrInvalidLimits 表示共签档位低于普通档位。
	ErrInvalidLimits = xerrors.New(CodeInvalidLimits, "")
	// ErrNotPaused 表示对未暂停的钱包执行了恢复操作。
	ErrNotPaused = xerrors.New(CodeNotPaused, "")
	// ErrHoldNotFound 表示冻结不存在。
	ErrHoldNotFound = xerrors.New(CodeHoldNotFound, "")
	// ErrHoldExpired 表示冻结已过期，无法扣款。
	ErrHoldExpired = xerrors.New(CodeHoldExpired, "")
	// ErrHoldClosed 表示冻结已处于终态。
	ErrHoldClosed = xerrors.New(CodeHoldClosed, "")
	// ErrInvalidHoldDuration 表示冻结时长超出允许区间。
	ErrInvalidHoldDuration = xerrors.New(CodeInvalidHoldDuration, "")
	// ErrCaptureExceedsHold 表示扣款金额超过冻结金额。
	ErrCaptureExceedsHold = xerrors.New(CodeCaptureExceedsHold, "")
	// ErrInsufficientAvailable 表示扣除冻结后可用余额不足。
	ErrInsufficientAvailable = xerrors.New(CodeInsufficientAvail, "")
	// ErrTimelockActive 表示移交延时尚未走完。
	ErrTimelockActive = xerrors.New(CodeTimelockActive, "")
	// ErrNoPendingTransfer 表示当前没有待执行的移交提案。
	ErrNoPendingTransfer = xerrors.New(CodeNoPendingTransfer, "")
	// ErrTransferPending 表示已有提案在延时中，需先显式撤销。
	ErrTransferPending = xerrors.New(CodeTransferPending, "")
	// ErrSponsorNotAllowed 表示钱包不在代付名单内。
	ErrSponsorNotAllowed = xerrors.New(CodeSponsorNotAllowed, "")
	// ErrSponsorCapExceeded 表示申请的 gas 超过当日剩余代付额度。
	ErrSponsorCapExceeded = xerrors.New(CodeSponsorCapExceeded, "")
	// ErrSponsorUnknown 表示代付上下文不存在或已结算。
	ErrSponsorUnknown = xerrors.New(CodeSponsorUnknown, "")
)
