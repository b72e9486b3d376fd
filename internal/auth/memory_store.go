package auth

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore 在内存中维护 API key 登记表，从配置种子化。
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*Credential
}

// NewMemoryStore 创建内存凭据存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{credentials: make(map[string]*Credential)}
}

// Seed 批量登记凭据，空 key 或空 actor 的条目被跳过。
func (s *MemoryStore) Seed(credentials []Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range credentials {
		credential := credentials[i]
		credential.Key = strings.TrimSpace(credential.Key)
		credential.Actor = strings.TrimSpace(credential.Actor)
		if credential.Key == "" || credential.Actor == "" {
			continue
		}
		s.credentials[credential.Key] = &credential
	}
}

// Revoke 吊销一个 API key。
func (s *MemoryStore) Revoke(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credential, ok := s.credentials[key]; ok {
		credential.Disabled = true
	}
}

// FindByKey 实现 Store。
func (s *MemoryStore) FindByKey(_ context.Context, key string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[key]
	if !ok {
		return nil, ErrInvalidKey
	}
	out := *credential
	return &out, nil
}
