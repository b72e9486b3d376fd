package audit

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	xerrors "AgentVault-Core/internal/errors"
)

// EventType 标识一次审计事件的种类。
type EventType string

const (
	EventAuthorizeAccepted EventType = "authorize.accepted"
	EventAuthorizeDenied   EventType = "authorize.denied"
	EventHoldCreated       EventType = "hold.created"
	EventHoldCaptured      EventType = "hold.captured"
	EventHoldVoided        EventType = "hold.voided"
	EventHoldDenied        EventType = "hold.denied"
	EventEscrowCreated     EventType = "escrow.created"
	EventEscrowFunded      EventType = "escrow.funded"
	EventEscrowDelivered   EventType = "escrow.delivered"
	EventEscrowReleased    EventType = "escrow.released"
	EventEscrowRefunded    EventType = "escrow.refunded"
	EventEscrowDisputed    EventType = "escrow.disputed"
	EventEscrowCancelled   EventType = "escrow.cancelled"
	EventEscrowDenied      EventType = "escrow.denied"
	EventAdminChanged      EventType = "admin.changed"
	EventAdminDenied       EventType = "admin.denied"
	EventRoleProposed      EventType = "role.proposed"
	EventRoleExecuted      EventType = "role.executed"
	EventRoleDenied        EventType = "role.denied"
	EventSponsorApproved   EventType = "sponsorship.approved"
	EventSponsorSettled    EventType = "sponsorship.settled"
	EventSponsorDenied     EventType = "sponsorship.denied"
)

// Event 是写入外部不可变账本的决策记录。金额以十进制字符串表示，
// 避免 JSON 数字精度问题。
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	SubjectID  string            `json:"subject_id"`
	Actor      string            `json:"actor,omitempty"`
	Token      string            `json:"token,omitempty"`
	Amounts    map[string]string `json:"amounts,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt int64             `json:"occurred_at"`
}

// NewEvent 构造带唯一标识的事件。
func NewEvent(eventType EventType, subjectID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		SubjectID:  subjectID,
		OccurredAt: at.Unix(),
	}
}

// WithActor 记录发起方。
func (e Event) WithActor(actor string) Event {
	e.Actor = actor
	return e
}

// WithToken 记录代币标识。
func (e Event) WithToken(token string) Event {
	e.Token = token
	return e
}

// WithAmount 附加一项金额。
func (e Event) WithAmount(name string, amount *big.Int) Event {
	if amount == nil {
		return e
	}
	if e.Amounts == nil {
		e.Amounts = make(map[string]string)
	}
	e.Amounts[name] = amount.String()
	return e
}

// WithOperation 记录触发事件的管理操作名。
func (e Event) WithOperation(op string) Event {
	e.Operation = op
	return e
}

// WithReason 记录决策或状态变更的 reason code，只接受大写蛇形常量。
func (e Event) WithReason(code xerrors.Code) Event {
	e.Reason = string(code)
	return e
}

// Sink 是审计事件的出口。实现不得修改事件内容；发送失败由
// 上层中继负责重试与告警，引擎本身不会因审计失败而阻塞决策。
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}
