package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"landgrid/internal/market/models"
	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
)

// MemoryStore is an in-memory listing ledger for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[domain.TokenID]*models.Listing
	ranges   []models.PriceRange
}

func NewMemory() *MemoryStore {
	return &MemoryStore{listings: make(map[domain.TokenID]*models.Listing)}
}

// Create inserts a listing. The slot must be empty.
func (s *MemoryStore) Create(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.TokenID]; ok {
		return fmt.Errorf("listing for token %d: %w", l.TokenID, sentinel.ErrConflict)
	}
	s.listings[l.TokenID] = clone(l)
	return nil
}

// CreateBatch inserts every listing or none of them.
func (s *MemoryStore) CreateBatch(_ context.Context, ls []*models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.TokenID]struct{}, len(ls))
	for _, l := range ls {
		if _, ok := s.listings[l.TokenID]; ok {
			return fmt.Errorf("listing for token %d: %w", l.TokenID, sentinel.ErrConflict)
		}
		if _, ok := seen[l.TokenID]; ok {
			return fmt.Errorf("duplicate token %d in batch: %w", l.TokenID, sentinel.ErrConflict)
		}
		seen[l.TokenID] = struct{}{}
	}
	for _, l := range ls {
		s.listings[l.TokenID] = clone(l)
	}
	return nil
}

// Get returns a copy of the listing for id.
func (s *MemoryStore) Get(_ context.Context, id domain.TokenID) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing for token %d: %w", id, sentinel.ErrNotFound)
	}
	return clone(l), nil
}

// Remove deletes the listing for id and returns the removed record.
func (s *MemoryStore) Remove(_ context.Context, id domain.TokenID) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing for token %d: %w", id, sentinel.ErrNotFound)
	}
	delete(s.listings, id)
	return l, nil
}

// Execute atomically validates and mutates one listing.
func (s *MemoryStore) Execute(
	_ context.Context,
	id domain.TokenID,
	validate func(*models.Listing) error,
	mutate func(*models.Listing),
) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing for token %d: %w", id, sentinel.ErrNotFound)
	}
	if validate != nil {
		if err := validate(clone(l)); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(l)
	}
	return clone(l), nil
}

// AllSellable returns the sellable listings ordered by token id.
func (s *MemoryStore) AllSellable(_ context.Context) ([]*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if l.Sellable {
			out = append(out, clone(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// AddRange records a price range. Overlap with an existing range is a conflict.
func (s *MemoryStore) AddRange(_ context.Context, r models.PriceRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ranges {
		if r.Overlaps(existing) {
			return fmt.Errorf("range %d-%d overlaps %d-%d: %w",
				r.StartID, r.EndID, existing.StartID, existing.EndID, sentinel.ErrConflict)
		}
	}
	s.ranges = append(s.ranges, models.PriceRange{StartID: r.StartID, EndID: r.EndID, Price: r.Price.Clone()})
	return nil
}

// RangeFor returns the price range covering id.
func (s *MemoryStore) RangeFor(_ context.Context, id domain.TokenID) (*models.PriceRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.ranges {
		if r.Contains(id) {
			out := models.PriceRange{StartID: r.StartID, EndID: r.EndID, Price: r.Price.Clone()}
			return &out, nil
		}
	}
	return nil, fmt.Errorf("price range for token %d: %w", id, sentinel.ErrNotFound)
}

// ApplyRangeToListings back-fills the range price into existing listings held
// by seller that fall inside the range and carry no explicit price.
func (s *MemoryStore) ApplyRangeToListings(_ context.Context, r models.PriceRange, seller domain.Account) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listings {
		if l.Seller == seller && l.Price == nil && r.Contains(l.TokenID) {
			l.Price = r.Price.Clone()
			n++
		}
	}
	return n, nil
}

func clone(l *models.Listing) *models.Listing {
	out := *l
	if l.Price != nil {
		out.Price = l.Price.Clone()
	}
	return &out
}
