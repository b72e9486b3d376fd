package clock

import (
	"sync"
	"time"
)

// Clock 为引擎提供统一的时间来源。策略与托管引擎的所有到期判断
// 都依赖这里返回的时间，便于在测试中替换为可控时钟。
type Clock interface {
	Now() time.Time
}

// SystemClock 直接使用本机时间。
type SystemClock struct{}

// Now 实现 Clock 接口。
func (SystemClock) Now() time.Time {
	return time.Now()
}

// System 返回系统时钟。
func System() Clock {
	return SystemClock{}
}

// Manual 是测试专用的可控时钟。
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 以指定时刻初始化手动时钟。
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now 实现 Clock 接口。
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 将时钟前移指定时长。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set 直接设置当前时刻。
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
