package policy

import (
	"context"
	"sync"
)

// Store 抽象钱包策略记录的持久化。实现必须保证并发安全，
// 且 Get 返回的对象与内部状态不共享可变数据。
type Store interface {
	Create(ctx context.Context, subject *Subject) error
	Get(ctx context.Context, id string) (*Subject, error)
	Update(ctx context.Context, subject *Subject) error
}

// MemoryStore 以内存方式保存钱包策略记录，主要用于测试。
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string]*Subject
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subjects: make(map[string]*Subject)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, subject *Subject) error {
	if subject == nil || subject.ID == "" {
		return ErrSubjectNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[subject.ID]; ok {
		return ErrSubjectExists
	}
	m.subjects[subject.ID] = subject.Clone()
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subject, ok := m.subjects[id]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	return subject.Clone(), nil
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(_ context.Context, subject *Subject) error {
	if subject == nil || subject.ID == "" {
		return ErrSubjectNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subjects[subject.ID]; !ok {
		return ErrSubjectNotFound
	}
	m.subjects[subject.ID] = subject.Clone()
	return nil
}
