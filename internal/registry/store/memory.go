package store

import (
	"context"
	"fmt"
	"sync"

	"landgrid/internal/registry/models"
	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
)

// MemoryStore keeps the parcel table in memory. It favors clarity over
// performance; the postgres store carries production load.
type MemoryStore struct {
	mu        sync.RWMutex
	parcels   map[domain.TokenID]*models.Parcel
	minted    uint64
	approvals map[domain.Account]map[domain.Account]bool
	apps      map[domain.Account]bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		parcels:   make(map[domain.TokenID]*models.Parcel),
		approvals: make(map[domain.Account]map[domain.Account]bool),
		apps:      make(map[domain.Account]bool),
	}
}

// MintBatch assigns the next n sequential ids to `to`, enforcing the supply
// cap. The whole batch fails without effect when it would cross the cap.
func (s *MemoryStore) MintBatch(_ context.Context, to domain.Account, n int, max uint64) ([]domain.TokenID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.minted+uint64(n) > max {
		return nil, fmt.Errorf("minting %d beyond %d of %d: %w", n, s.minted, max, sentinel.ErrConflict)
	}

	ids := make([]domain.TokenID, 0, n)
	for i := 0; i < n; i++ {
		s.minted++
		id := domain.TokenID(s.minted)
		s.parcels[id] = &models.Parcel{TokenID: id, Owner: to}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Get(_ context.Context, id domain.TokenID) (*models.Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parcel, ok := s.parcels[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *parcel
	return &clone, nil
}

// Execute atomically validates and mutates one parcel under the store lock.
func (s *MemoryStore) Execute(_ context.Context, id domain.TokenID, validate func(*models.Parcel) error, mutate func(*models.Parcel)) (*models.Parcel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parcel, ok := s.parcels[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(parcel); err != nil {
		return nil, err
	}
	mutate(parcel)
	clone := *parcel
	return &clone, nil
}

func (s *MemoryStore) Total(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minted, nil
}

func (s *MemoryStore) CountByOwner(_ context.Context, owner domain.Account) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.parcels {
		if p.Owner == owner {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SetApproval(_ context.Context, owner, operator domain.Account, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approvals[owner] == nil {
		s.approvals[owner] = make(map[domain.Account]bool)
	}
	s.approvals[owner][operator] = approved
	return nil
}

func (s *MemoryStore) IsApproved(_ context.Context, owner, operator domain.Account) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.approvals[owner][operator], nil
}

// AddApp registers a trusted marketplace account that may move any parcel.
func (s *MemoryStore) AddApp(_ context.Context, app domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app] = true
	return nil
}

func (s *MemoryStore) IsApp(_ context.Context, app domain.Account) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apps[app], nil
}
