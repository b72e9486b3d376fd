package escrow

import (
	"context"
	"sync"
)

// Store 抽象托管单的持久化。实现必须保证返回值与内部状态隔离。
type Store interface {
	// Create 落盘新托管单，id 冲突时返回 ErrEscrowExists。
	Create(ctx context.Context, escrow *Escrow) error
	// Get 按 id 读取托管单，不存在时返回 ErrEscrowNotFound。
	Get(ctx context.Context, id string) (*Escrow, error)
	// Update 覆盖写回托管单，不存在时返回 ErrEscrowNotFound。
	Update(ctx context.Context, escrow *Escrow) error
}

// MemoryStore 是进程内实现，单测和本地调试使用。
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*Escrow)}
}

// Create 实现 Store。
func (s *MemoryStore) Create(_ context.Context, escrow *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[escrow.ID]; ok {
		return ErrEscrowExists
	}
	s.escrows[escrow.ID] = escrow.Clone()
	return nil
}

// Get 实现 Store。
func (s *MemoryStore) Get(_ context.Context, id string) (*Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	escrow, ok := s.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return escrow.Clone(), nil
}

// Update 实现 Store。
func (s *MemoryStore) Update(_ context.Context, escrow *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[escrow.ID]; !ok {
		return ErrEscrowNotFound
	}
	s.escrows[escrow.ID] = escrow.Clone()
	return nil
}
