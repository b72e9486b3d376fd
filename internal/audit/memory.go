package audit

import (
	"context"
	"sync"
)

// MemorySink 把事件保存在内存里，主要用于测试。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink 创建 MemorySink。
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit 实现 Sink 接口。
func (s *MemorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Close 实现 Sink 接口。
func (s *MemorySink) Close() error {
	return nil
}

// Events 返回已记录事件的拷贝。
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// LastOfType 返回指定类型的最近一条事件。
func (s *MemorySink) LastOfType(eventType EventType) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == eventType {
			return s.events[i], true
		}
	}
	return Event{}, false
}
