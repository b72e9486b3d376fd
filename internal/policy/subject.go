package policy

import (
	"math/big"
	"time"
)

// MerchantMode 标识商户门控的执行模式。拒绝名单始终生效，
// 允许名单模式额外要求商户在允许名单内。
type MerchantMode string

const (
	MerchantModeDenylist  MerchantMode = "denylist"
	MerchantModeAllowlist MerchantMode = "allowlist"
)

// MerchantGate 维护商户允许/拒绝集合与模式开关。两个集合互斥：
// 允许某商户会同时清除其拒绝记录，反之亦然。
type MerchantGate struct {
	Mode    MerchantMode        `json:"mode"`
	Allowed map[string]struct{} `json:"allowed"`
	Denied  map[string]struct{} `json:"denied"`
}

// NewMerchantGate 创建默认处于拒绝名单模式的门控。
func NewMerchantGate() MerchantGate {
	return MerchantGate{
		Mode:    MerchantModeDenylist,
		Allowed: make(map[string]struct{}),
		Denied:  make(map[string]struct{}),
	}
}

// Allow 把商户加入允许名单，并清除其拒绝记录。
func (g *MerchantGate) Allow(merchant string) {
	if g.Allowed == nil {
		g.Allowed = make(map[string]struct{})
	}
	g.Allowed[merchant] = struct{}{}
	delete(g.Denied, merchant)
}

// Deny 把商户加入拒绝名单，同时将其移出允许名单。
func (g *MerchantGate) Deny(merchant string) {
	if g.Denied == nil {
		g.Denied = make(map[string]struct{})
	}
	g.Denied[merchant] = struct{}{}
	delete(g.Allowed, merchant)
}

// Remove 把商户从两个集合中删除。
func (g *MerchantGate) Remove(merchant string) {
	delete(g.Allowed, merchant)
	delete(g.Denied, merchant)
}

// Check 依次执行拒绝名单与允许名单检查，顺序固定：
// 拒绝名单优先于模式开关。
func (g *MerchantGate) Check(merchant string) error {
	if _, ok := g.Denied[merchant]; ok {
		return ErrMerchantDenied
	}
	if g.Mode == MerchantModeAllowlist {
		if _, ok := g.Allowed[merchant]; !ok {
			return ErrMerchantNotAllowed
		}
	}
	return nil
}

func (g MerchantGate) clone() MerchantGate {
	out := MerchantGate{
		Mode:    g.Mode,
		Allowed: make(map[string]struct{}, len(g.Allowed)),
		Denied:  make(map[string]struct{}, len(g.Denied)),
	}
	for m := range g.Allowed {
		out.Allowed[m] = struct{}{}
	}
	for m := range g.Denied {
		out.Denied[m] = struct{}{}
	}
	return out
}

// TokenGate 维护代币允许名单与开关。开关关闭时任何代币都可通过。
type TokenGate struct {
	Enforced bool                `json:"enforced"`
	Allowed  map[string]struct{} `json:"allowed"`
}

// NewTokenGate 创建未启用的代币门控。
func NewTokenGate() TokenGate {
	return TokenGate{Allowed: make(map[string]struct{})}
}

// Allow 把代币加入允许名单。
func (g *TokenGate) Allow(token string) {
	if g.Allowed == nil {
		g.Allowed = make(map[string]struct{})
	}
	g.Allowed[token] = struct{}{}
}

// Remove 把代币移出允许名单。
func (g *TokenGate) Remove(token string) {
	delete(g.Allowed, token)
}

// Check 在开关启用时校验代币是否在允许名单内。
func (g *TokenGate) Check(token string) error {
	if !g.Enforced {
		return nil
	}
	if _, ok := g.Allowed[token]; !ok {
		return ErrTokenNotAllowed
	}
	return nil
}

func (g TokenGate) clone() TokenGate {
	out := TokenGate{Enforced: g.Enforced, Allowed: make(map[string]struct{}, len(g.Allowed))}
	for t := range g.Allowed {
		out.Allowed[t] = struct{}{}
	}
	return out
}

// CoSignTier 是策略模块专用的共签提升档位，两项上限都不得低于
// 普通档位。
type CoSignTier struct {
	LimitPerTx *big.Int `json:"limit_per_tx"`
	DailyLimit *big.Int `json:"daily_limit"`
}

func (t *CoSignTier) clone() *CoSignTier {
	if t == nil {
		return nil
	}
	return &CoSignTier{
		LimitPerTx: new(big.Int).Set(t.LimitPerTx),
		DailyLimit: new(big.Int).Set(t.DailyLimit),
	}
}

// HoldStatus 是预授权冻结的显式状态。captured 与 voided 互斥且终态。
type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusCaptured HoldStatus = "captured"
	HoldStatusVoided   HoldStatus = "voided"
)

// holdTransitions 是冻结状态机的迁移表，不在表内的迁移一律拒绝。
var holdTransitions = map[HoldStatus][]HoldStatus{
	HoldStatusActive:   {HoldStatusCaptured, HoldStatusVoided},
	HoldStatusCaptured: {},
	HoldStatusVoided:   {},
}

// canTransition 判断冻结状态迁移是否合法。
func canTransition(from, to HoldStatus) bool {
	for _, next := range holdTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Hold 描述一笔针对未来扣款的资金预留。
type Hold struct {
	ID        string     `json:"id"`
	Merchant  string     `json:"merchant"`
	Token     string     `json:"token"`
	Amount    *big.Int   `json:"amount"`
	CreatedAt int64      `json:"created_at"`
	ExpiresAt int64      `json:"expires_at"`
	Status    HoldStatus `json:"status"`
}

// Expired 判断冻结是否已过期。
func (h *Hold) Expired(now time.Time) bool {
	return now.Unix() >= h.ExpiresAt
}

func (h *Hold) clone() *Hold {
	if h == nil {
		return nil
	}
	out := *h
	out.Amount = new(big.Int).Set(h.Amount)
	return &out
}

// PendingRoleTransfer 是两步延时权限移交的中间状态，钱包控制权
// 与注册表权限共用同一套协议。
type PendingRoleTransfer struct {
	Proposed   string `json:"proposed"`
	ProposedAt int64  `json:"proposed_at"`
}

// Ready 判断延时是否已经走完。
func (p *PendingRoleTransfer) Ready(now time.Time, delay time.Duration) bool {
	if p == nil {
		return false
	}
	return now.Unix() >= p.ProposedAt+int64(delay.Seconds())
}

// Subject 是被策略约束的钱包或智能账户。Subject 只通过策略引擎
// 的调用被修改，永不销毁，只能被暂停或经应急恢复抽空。
type Subject struct {
	ID         string                `json:"id"`
	Owner      string                `json:"owner"`
	Controller string                `json:"controller"`
	Recovery   string                `json:"recovery"`
	LimitPerTx *big.Int              `json:"limit_per_tx"`
	DailyLimit *big.Int              `json:"daily_limit"`
	Spend      TimeWindowAccumulator `json:"spend"`
	Paused     bool                  `json:"paused"`
	Merchants  MerchantGate          `json:"merchants"`
	Tokens     TokenGate             `json:"tokens"`
	CoSign     *CoSignTier           `json:"co_sign,omitempty"`
	Holds      map[string]*Hold      `json:"holds"`
	Held       map[string]*big.Int   `json:"held"`
	Pending    *PendingRoleTransfer  `json:"pending,omitempty"`
	CreatedAt  int64                 `json:"created_at"`
	UpdatedAt  int64                 `json:"updated_at"`
}

// IsOwner 判断调用方是否为钱包持有者。
func (s *Subject) IsOwner(actor string) bool {
	return actor != "" && actor == s.Owner
}

// IsController 判断调用方是否为平台控制方。
func (s *Subject) IsController(actor string) bool {
	return actor != "" && actor == s.Controller
}

// IsOwnerOrController 判断调用方是否具备支付权限。
func (s *Subject) IsOwnerOrController(actor string) bool {
	return s.IsOwner(actor) || s.IsController(actor)
}

// HeldTotal 返回指定代币当前被冻结的总额。
func (s *Subject) HeldTotal(token string) *big.Int {
	if s.Held == nil {
		return new(big.Int)
	}
	held, ok := s.Held[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(held)
}

// reserve 把金额计入冻结总额。
func (s *Subject) reserve(token string, amount *big.Int) {
	if s.Held == nil {
		s.Held = make(map[string]*big.Int)
	}
	held, ok := s.Held[token]
	if !ok {
		held = new(big.Int)
		s.Held[token] = held
	}
	held.Add(held, amount)
}

// release 把金额从冻结总额中释放。
func (s *Subject) release(token string, amount *big.Int) {
	held, ok := s.Held[token]
	if !ok {
		return
	}
	held.Sub(held, amount)
	if held.Sign() <= 0 {
		delete(s.Held, token)
	}
}

// Clone 返回 Subject 的深拷贝，存储层依赖它避免共享可变状态。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	out := &Subject{
		ID:         s.ID,
		Owner:      s.Owner,
		Controller: s.Controller,
		Recovery:   s.Recovery,
		LimitPerTx: new(big.Int).Set(s.LimitPerTx),
		DailyLimit: new(big.Int).Set(s.DailyLimit),
		Spend:      s.Spend.Clone(),
		Paused:     s.Paused,
		Merchants:  s.Merchants.clone(),
		Tokens:     s.Tokens.clone(),
		CoSign:     s.CoSign.clone(),
		Holds:      make(map[string]*Hold, len(s.Holds)),
		Held:       make(map[string]*big.Int, len(s.Held)),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	for id, hold := range s.Holds {
		out.Holds[id] = hold.clone()
	}
	for token, held := range s.Held {
		out.Held[token] = new(big.Int).Set(held)
	}
	if s.Pending != nil {
		pending := *s.Pending
		out.Pending = &pending
	}
	return out
}
