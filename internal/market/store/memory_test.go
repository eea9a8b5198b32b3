package store

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/suite"

	"landgrid/internal/market/models"
	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
)

type ListingStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestListingStoreSuite(t *testing.T) {
	suite.Run(t, new(ListingStoreSuite))
}

func (s *ListingStoreSuite) SetupTest() {
	s.store = NewMemory()
	s.ctx = context.Background()
}

func (s *ListingStoreSuite) listing(id domain.TokenID, seller domain.Account, price uint64) *models.Listing {
	l := &models.Listing{TokenID: id, Seller: seller, Sellable: true}
	if price > 0 {
		l.Price = uint256.NewInt(price)
	}
	return l
}

func (s *ListingStoreSuite) TestCreateAndGet() {
	s.Run("round trips a listing", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.listing(1, "alice", 100)))

		got, err := s.store.Get(s.ctx, 1)
		s.Require().NoError(err)
		s.Equal(domain.Account("alice"), got.Seller)
		s.Equal("100", got.Price.Dec())
	})

	s.Run("occupied slot is a conflict", func() {
		err := s.store.Create(s.ctx, s.listing(1, "bob", 200))
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, 2)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ListingStoreSuite) TestCreateBatch() {
	s.Require().NoError(s.store.Create(s.ctx, s.listing(3, "alice", 100)))

	s.Run("any collision fails the whole batch", func() {
		err := s.store.CreateBatch(s.ctx, []*models.Listing{
			s.listing(1, "treasury", 0),
			s.listing(3, "treasury", 0),
		})
		s.Require().ErrorIs(err, sentinel.ErrConflict)

		_, err = s.store.Get(s.ctx, 1)
		s.Require().ErrorIs(err, sentinel.ErrNotFound, "partial batch must not persist")
	})

	s.Run("clean batch persists every listing", func() {
		s.Require().NoError(s.store.CreateBatch(s.ctx, []*models.Listing{
			s.listing(1, "treasury", 0),
			s.listing(2, "treasury", 0),
		}))
		all, err := s.store.AllSellable(s.ctx)
		s.Require().NoError(err)
		s.Len(all, 3)
	})
}

func (s *ListingStoreSuite) TestRemove() {
	s.Require().NoError(s.store.Create(s.ctx, s.listing(1, "alice", 100)))

	removed, err := s.store.Remove(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(domain.TokenID(1), removed.TokenID)

	_, err = s.store.Remove(s.ctx, 1)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ListingStoreSuite) TestAllSellable() {
	s.Require().NoError(s.store.Create(s.ctx, s.listing(2, "alice", 100)))
	s.Require().NoError(s.store.Create(s.ctx, s.listing(1, "bob", 200)))
	hidden := s.listing(3, "carol", 300)
	hidden.Sellable = false
	s.Require().NoError(s.store.Create(s.ctx, hidden))

	all, err := s.store.AllSellable(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(domain.TokenID(1), all[0].TokenID, "ordered by token id")
	s.Equal(domain.TokenID(2), all[1].TokenID)
}

func (s *ListingStoreSuite) TestPriceRanges() {
	price := uint256.NewInt(50)

	s.Run("records and resolves a range", func() {
		s.Require().NoError(s.store.AddRange(s.ctx, models.PriceRange{StartID: 1, EndID: 10, Price: price}))

		r, err := s.store.RangeFor(s.ctx, 5)
		s.Require().NoError(err)
		s.Equal("50", r.Price.Dec())

		_, err = s.store.RangeFor(s.ctx, 11)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("overlapping range is rejected", func() {
		err := s.store.AddRange(s.ctx, models.PriceRange{StartID: 10, EndID: 20, Price: price})
		s.Require().ErrorIs(err, sentinel.ErrConflict)

		s.Require().NoError(s.store.AddRange(s.ctx, models.PriceRange{StartID: 11, EndID: 20, Price: price}))
	})

	s.Run("back-fills priceless treasury listings only", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.listing(2, "treasury", 0)))
		s.Require().NoError(s.store.Create(s.ctx, s.listing(3, "alice", 0)))
		s.Require().NoError(s.store.Create(s.ctx, s.listing(4, "treasury", 999)))

		n, err := s.store.ApplyRangeToListings(s.ctx,
			models.PriceRange{StartID: 1, EndID: 10, Price: price}, "treasury")
		s.Require().NoError(err)
		s.Equal(1, n)

		filled, err := s.store.Get(s.ctx, 2)
		s.Require().NoError(err)
		s.Equal("50", filled.Price.Dec())

		explicit, err := s.store.Get(s.ctx, 4)
		s.Require().NoError(err)
		s.Equal("999", explicit.Price.Dec(), "explicit price must not be overwritten")
	})
}
