package policy

import (
	"math/big"
	"time"
)

// secondsPerDay 是日窗口的固定长度，窗口按 UTC 天对齐。
const secondsPerDay = 86400

// DayIndex 返回时间所属的日索引。
func DayIndex(t time.Time) int64 {
	return t.Unix() / secondsPerDay
}

// TimeWindowAccumulator 追踪滚动的当日累计花费。所有变更入口都
// 必须先调用 Rollover，跨天后当日累计立即清零，绝不只在读取时
// 惰性重置。
type TimeWindowAccumulator struct {
	Spent *big.Int `json:"spent"`
	Day   int64    `json:"day"`
}

// NewTimeWindowAccumulator 创建从指定时刻开始计数的累计器。
func NewTimeWindowAccumulator(now time.Time) TimeWindowAccumulator {
	return TimeWindowAccumulator{Spent: new(big.Int), Day: DayIndex(now)}
}

// Rollover 检查是否跨天，跨天则清零当日累计。
func (w *TimeWindowAccumulator) Rollover(now time.Time) {
	day := DayIndex(now)
	if day != w.Day {
		w.Day = day
		w.Spent = new(big.Int)
	}
	if w.Spent == nil {
		w.Spent = new(big.Int)
	}
}

// Projected 返回叠加 amount 之后的当日累计，不修改状态。
func (w *TimeWindowAccumulator) Projected(amount *big.Int) *big.Int {
	spent := w.Spent
	if spent == nil {
		spent = new(big.Int)
	}
	return new(big.Int).Add(spent, amount)
}

// Accrue 把 amount 计入当日累计。
func (w *TimeWindowAccumulator) Accrue(amount *big.Int) {
	if w.Spent == nil {
		w.Spent = new(big.Int)
	}
	w.Spent.Add(w.Spent, amount)
}

// Clone 返回累计器的深拷贝。
func (w TimeWindowAccumulator) Clone() TimeWindowAccumulator {
	out := TimeWindowAccumulator{Day: w.Day, Spent: new(big.Int)}
	if w.Spent != nil {
		out.Spent.Set(w.Spent)
	}
	return out
}
