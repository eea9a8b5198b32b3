package store

import (
	"context"
	"sync"

	"landgrid/internal/access/models"
	"landgrid/pkg/domain"
)

// MemoryStore holds the role table in memory. Grant and Revoke report whether
// they changed anything so the service can keep grant/revoke idempotent
// without emitting duplicate events.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[models.Role]map[domain.Account]struct{}
}

func NewMemory() *MemoryStore {
	return &MemoryStore{grants: make(map[models.Role]map[domain.Account]struct{})}
}

func (s *MemoryStore) Grant(_ context.Context, role models.Role, account domain.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, ok := s.grants[role]
	if !ok {
		accounts = make(map[domain.Account]struct{})
		s.grants[role] = accounts
	}
	if _, held := accounts[account]; held {
		return false, nil
	}
	accounts[account] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Revoke(_ context.Context, role models.Role, account domain.Account) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, ok := s.grants[role]
	if !ok {
		return false, nil
	}
	if _, held := accounts[account]; !held {
		return false, nil
	}
	delete(accounts, account)
	return true, nil
}

func (s *MemoryStore) Has(_ context.Context, role models.Role, account domain.Account) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, held := s.grants[role][account]
	return held, nil
}
