package escrow

import (
	"math/big"

	"AgentVault-Core/internal/ledger"
)

// State 是托管单的生命周期状态。进入 Released、Refunded 或
// Expired 后托管单不可再变更。
type State string

const (
	StateCreated  State = "created"
	StateFunded   State = "funded"
	StateDisputed State = "disputed"
	StateReleased State = "released"
	StateRefunded State = "refunded"
	StateExpired  State = "expired"
)

// transitions 是显式的状态迁移表。不在表内的迁移一律拒绝，
// 避免用布尔标志组合出不可枚举的中间状态。
var transitions = map[State][]State{
	StateCreated:  {StateFunded, StateExpired},
	StateFunded:   {StateDisputed, StateReleased, StateRefunded},
	StateDisputed: {StateReleased, StateRefunded},
}

// canTransition 判断迁移是否在表内。
func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded || s == StateExpired
}

// Milestone 是托管金额下可独立交付、独立放款的一个分期。
type Milestone struct {
	Description string   `json:"description"`
	Amount      *big.Int `json:"amount"`
	Completed   bool     `json:"completed"`
	Released    bool     `json:"released"`
}

func (m *Milestone) clone() *Milestone {
	if m == nil {
		return nil
	}
	return &Milestone{
		Description: m.Description,
		Amount:      ledger.Copy(m.Amount),
		Completed:   m.Completed,
		Released:    m.Released,
	}
}

// Escrow 是买卖双方之间的一笔托管交易。手续费在创建时锁定，
// 始终由买方在本金之外承担，卖方拿到的永远是足额名义金额。
type Escrow struct {
	ID            string       `json:"id"`
	Buyer         string       `json:"buyer"`
	Seller        string       `json:"seller"`
	Token         string       `json:"token"`
	Amount        *big.Int     `json:"amount"`
	Fee           *big.Int     `json:"fee"`
	Deadline      int64        `json:"deadline"`
	ConditionHash string       `json:"condition_hash"`
	Description   string       `json:"description"`
	State         State        `json:"state"`
	Delivered     bool         `json:"delivered"`
	Milestones    []*Milestone `json:"milestones,omitempty"`
	CreatedAt     int64        `json:"created_at"`
	UpdatedAt     int64        `json:"updated_at"`
}

// HasMilestones 报告托管单是否按分期放款。
func (e *Escrow) HasMilestones() bool {
	return len(e.Milestones) > 0
}

// CustodyAccount 返回托管资金的保管账户。
func (e *Escrow) CustodyAccount() string {
	return "escrow:" + e.ID
}

// ReleasedTotal 返回已放款的分期金额之和。
func (e *Escrow) ReleasedTotal() *big.Int {
	total := new(big.Int)
	for _, milestone := range e.Milestones {
		if milestone.Released {
			total.Add(total, milestone.Amount)
		}
	}
	return total
}

// Remaining 返回尚未放款的本金。非分期托管单在放款前就是全额。
func (e *Escrow) Remaining() *big.Int {
	return new(big.Int).Sub(e.Amount, e.ReleasedTotal())
}

// allReleased 报告是否所有分期都已放款。
func (e *Escrow) allReleased() bool {
	for _, milestone := range e.Milestones {
		if !milestone.Released {
			return false
		}
	}
	return true
}

// Clone 返回深拷贝，存储层持有副本避免调用方改写共享状态。
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	out := *e
	out.Amount = ledger.Copy(e.Amount)
	out.Fee = ledger.Copy(e.Fee)
	if e.Milestones != nil {
		out.Milestones = make([]*Milestone, len(e.Milestones))
		for i, milestone := range e.Milestones {
			out.Milestones[i] = milestone.clone()
		}
	}
	return &out
}

// feeFor 计算创建时锁定的手续费:floor(amount * feeBps / 10000)。
func feeFor(amount *big.Int, feeBps int64) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(feeBps))
	return fee.Quo(fee, big.NewInt(10000))
}
