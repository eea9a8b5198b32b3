package service

import (
	"context"
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/suite"

	accessmodels "landgrid/internal/access/models"
	accessservice "landgrid/internal/access/service"
	accessstore "landgrid/internal/access/store"
	"landgrid/internal/market/models"
	marketstore "landgrid/internal/market/store"
	"landgrid/internal/platform/events"
	registryservice "landgrid/internal/registry/service"
	registrystore "landgrid/internal/registry/store"
	"landgrid/internal/token"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
	"landgrid/pkg/requestcontext"
)

const (
	deployer = domain.Account("deployer")
	treasury = domain.Account("treasury")
	market   = domain.Account("marketplace")
	alice    = domain.Account("alice")
	bob      = domain.Account("bob")
)

type MarketServiceSuite struct {
	suite.Suite
	service   *Service
	registry  *registryservice.Service
	access    *accessservice.Service
	ledger    *token.MemoryLedger
	publisher *events.MemoryPublisher
	ctx       context.Context
}

func TestMarketServiceSuite(t *testing.T) {
	suite.Run(t, new(MarketServiceSuite))
}

func (s *MarketServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.access = accessservice.New(accessstore.NewMemory())
	s.Require().NoError(s.access.Seed(s.ctx, deployer))
	s.Require().NoError(s.access.GrantRole(s.as(deployer), accessmodels.RoleMinter, market))

	s.registry = registryservice.New(registrystore.NewMemory(), s.access, "https://api.neoki.io/LANDS", 1000)
	s.Require().NoError(s.registry.AddApp(s.as(deployer), market))

	s.ledger = token.NewMemoryLedger()
	s.publisher = events.NewMemoryPublisher()
	s.service = New(marketstore.NewMemory(), s.registry, s.access, s.ledger,
		market, treasury, 400, WithPublisher(s.publisher))
}

func (s *MarketServiceSuite) as(account domain.Account) context.Context {
	return requestcontext.WithCaller(s.ctx, account)
}

// mintTo gives owner freshly minted parcels outside marketplace custody.
func (s *MarketServiceSuite) mintTo(owner domain.Account, n int) []domain.TokenID {
	ids, err := s.registry.MintBatch(s.as(deployer), n, owner)
	s.Require().NoError(err)
	return ids
}

// fund gives buyer tokens and an allowance for the marketplace to spend.
func (s *MarketServiceSuite) fund(buyer domain.Account, amount uint64) {
	s.ledger.Mint(s.ctx, buyer, uint256.NewInt(amount))
	s.ledger.Approve(s.ctx, buyer, market, uint256.NewInt(amount))
}

func (s *MarketServiceSuite) balance(account domain.Account) string {
	b, err := s.ledger.BalanceOf(s.ctx, account)
	s.Require().NoError(err)
	return b.Dec()
}

func (s *MarketServiceSuite) TestSellLand() {
	ids := s.mintTo(alice, 2)

	s.Run("escrows the parcel and records the listing", func() {
		listing, err := s.service.SellLand(s.as(alice), models.SellOrder{
			Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0],
		})
		s.Require().NoError(err)
		s.Equal(alice, listing.Seller)
		s.True(listing.Sellable)

		owner, err := s.registry.OwnerOf(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(market, owner, "escrow moves custody to the marketplace")
	})

	s.Run("rejects a seller who does not own the parcel", func() {
		_, err := s.service.SellLand(s.as(bob), models.SellOrder{
			Owner: bob, Price: uint256.NewInt(100), TokenID: ids[1],
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "caller does not own LAND")
	})

	s.Run("rejects relisting an escrowed parcel", func() {
		_, err := s.service.SellLand(s.as(alice), models.SellOrder{
			Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0],
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "custody already moved away from seller")
	})

	s.Run("rejects a zero price", func() {
		_, err := s.service.SellLand(s.as(alice), models.SellOrder{
			Owner: alice, Price: uint256.NewInt(0), TokenID: ids[1],
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *MarketServiceSuite) TestSellBatchLands() {
	ids := s.mintTo(alice, 3)
	sold, err := s.service.SellLand(s.as(alice), models.SellOrder{
		Owner: alice, Price: uint256.NewInt(100), TokenID: ids[2],
	})
	s.Require().NoError(err)
	s.Require().NotNil(sold)

	s.Run("one bad order rejects the whole batch", func() {
		_, err := s.service.SellBatchLands(s.as(alice), []models.SellOrder{
			{Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0]},
			{Owner: alice, Price: uint256.NewInt(100), TokenID: ids[2]},
		})
		s.Require().Error(err)

		owner, err := s.registry.OwnerOf(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(alice, owner, "no escrow on a failed batch")
	})

	s.Run("clean batch lists everything", func() {
		listings, err := s.service.SellBatchLands(s.as(alice), []models.SellOrder{
			{Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0]},
			{Owner: alice, Price: uint256.NewInt(200), TokenID: ids[1]},
		})
		s.Require().NoError(err)
		s.Len(listings, 2)
	})
}

func (s *MarketServiceSuite) TestListLand() {
	ids := s.mintTo(alice, 1)

	s.Run("requires operator approval", func() {
		_, err := s.service.ListLand(s.as(alice), ids[0], uint256.NewInt(100))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("lists once approved", func() {
		s.Require().NoError(s.registry.SetApprovalForAll(s.as(alice), market, true))
		listing, err := s.service.ListLand(s.as(alice), ids[0], uint256.NewInt(100))
		s.Require().NoError(err)
		s.Equal(alice, listing.Seller)
	})

	s.Run("cannot override an existing listing", func() {
		_, err := s.service.ListLand(s.as(alice), ids[0], uint256.NewInt(150))
		s.Require().Error(err)
	})
}

func (s *MarketServiceSuite) TestRemoveLand() {
	ids := s.mintTo(alice, 1)
	_, err := s.service.SellLand(s.as(alice), models.SellOrder{
		Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0],
	})
	s.Require().NoError(err)

	s.Run("only the seller may withdraw", func() {
		err := s.service.RemoveLand(s.as(bob), ids[0])
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("withdrawal returns custody to the seller", func() {
		s.Require().NoError(s.service.RemoveLand(s.as(alice), ids[0]))

		owner, err := s.registry.OwnerOf(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(alice, owner)

		_, err = s.service.GetListing(s.ctx, ids[0])
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *MarketServiceSuite) TestMintLands() {
	s.Run("requires the admin role", func() {
		_, err := s.service.MintLands(s.as(alice), 2)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("mints into custody listed for the treasury", func() {
		ids, err := s.service.MintLands(s.as(deployer), 2)
		s.Require().NoError(err)
		s.Len(ids, 2)

		owner, err := s.registry.OwnerOf(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(market, owner)

		listing, err := s.service.GetListing(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(treasury, listing.Seller)
		s.Nil(listing.Price, "treasury inventory is priced later by range")
	})
}

func (s *MarketServiceSuite) TestDefinePricePerRange() {
	ids, err := s.service.MintLands(s.as(deployer), 3)
	s.Require().NoError(err)

	s.Run("requires the admin role", func() {
		err := s.service.DefinePricePerRange(s.as(alice), 1, 10, uint256.NewInt(50))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects inverted bounds", func() {
		err := s.service.DefinePricePerRange(s.as(deployer), 10, 1, uint256.NewInt(50))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("records the range and back-fills treasury listings", func() {
		s.Require().NoError(s.service.DefinePricePerRange(s.as(deployer), 1, 10, uint256.NewInt(50)))

		listing, err := s.service.GetListing(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal("50", listing.Price.Dec())
	})

	s.Run("overlapping range is a conflict", func() {
		err := s.service.DefinePricePerRange(s.as(deployer), 5, 15, uint256.NewInt(60))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects a range beyond the supply cap", func() {
		err := s.service.DefinePricePerRange(s.as(deployer), 2000, 3000, uint256.NewInt(50))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *MarketServiceSuite) TestGetPricePerRange() {
	_, err := s.service.MintLands(s.as(deployer), 3)
	s.Require().NoError(err)
	s.Require().NoError(s.service.DefinePricePerRange(s.as(deployer), 1, 2, uint256.NewInt(50)))

	s.Run("resolves range prices and omits unpriced parcels", func() {
		// The third parcel has neither an explicit price nor a covering range.
		prices, err := s.service.GetPricePerRange(s.ctx, 1, 3)
		s.Require().NoError(err)
		s.Require().Len(prices, 2, "the unpriced parcel is omitted")
		s.Equal(domain.TokenID(1), prices[0].TokenID)
		s.Equal("50", prices[0].Price.Dec())
	})

	s.Run("unlisted parcels inherit a covering range price", func() {
		s.Require().NoError(s.service.DefinePricePerRange(s.as(deployer), 4, 5, uint256.NewInt(70)))

		prices, err := s.service.GetPricePerRange(s.ctx, 1, 5)
		s.Require().NoError(err)
		s.Require().Len(prices, 4)
		s.Equal(domain.TokenID(4), prices[2].TokenID)
		s.Equal("70", prices[2].Price.Dec())
	})

	s.Run("rejects a range beyond the supply cap", func() {
		_, err := s.service.GetPricePerRange(s.ctx, 1, math.MaxUint64)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.GetPricePerRange(s.ctx, 1, 1001)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *MarketServiceSuite) TestAdminSetLandForSell() {
	ids, err := s.service.MintLands(s.as(deployer), 2)
	s.Require().NoError(err)

	s.Run("length mismatch is rejected", func() {
		err := s.service.AdminSetLandForSell(s.as(deployer), []bool{false}, ids)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("requires the admin role", func() {
		err := s.service.AdminSetLandForSell(s.as(alice), []bool{false, false}, ids)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("toggles every listing", func() {
		s.Require().NoError(s.service.AdminSetLandForSell(s.as(deployer), []bool{false, false}, ids))

		listing, err := s.service.GetListing(s.ctx, ids[0])
		s.Require().NoError(err)
		s.False(listing.Sellable)
	})
}

func (s *MarketServiceSuite) TestBuyLand() {
	ids := s.mintTo(alice, 1)
	_, err := s.service.SellLand(s.as(alice), models.SellOrder{
		Owner: alice, Price: uint256.NewInt(1000), TokenID: ids[0],
	})
	s.Require().NoError(err)

	s.Run("rejects a buyer without allowance", func() {
		s.ledger.Mint(s.ctx, bob, uint256.NewInt(5000))
		_, err := s.service.BuyLand(s.as(bob), ids)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("settles with the fee split", func() {
		s.ledger.Approve(s.ctx, bob, market, uint256.NewInt(5000))

		receipt, err := s.service.BuyLand(s.as(bob), ids)
		s.Require().NoError(err)
		s.Equal("1000", receipt.Total.Dec())
		s.Equal("40", receipt.Fees.Dec())

		s.Equal("4000", s.balance(bob))
		s.Equal("960", s.balance(alice), "seller receives price minus the 4% fee")
		s.Equal("40", s.balance(treasury))

		owner, err := s.registry.OwnerOf(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(bob, owner)

		_, err = s.service.GetListing(s.ctx, ids[0])
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "settled listing is removed")
	})

	s.Run("sold parcel cannot be bought again", func() {
		_, err := s.service.BuyLand(s.as(bob), ids)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Contains(err.Error(), "LAND not for sell")
	})
}

func (s *MarketServiceSuite) TestBuyLandTreasuryInventory() {
	ids, err := s.service.MintLands(s.as(deployer), 2)
	s.Require().NoError(err)
	s.Require().NoError(s.service.DefinePricePerRange(s.as(deployer), ids[0], ids[1], uint256.NewInt(100)))
	s.fund(bob, 1000)

	receipt, err := s.service.BuyLand(s.as(bob), ids)
	s.Require().NoError(err)
	s.Equal("200", receipt.Total.Dec())
	s.Equal("0", receipt.Fees.Dec(), "treasury sales pass the full price through")

	s.Equal("800", s.balance(bob))
	s.Equal("200", s.balance(treasury))
}

func (s *MarketServiceSuite) TestBuyLandBatchAtomicity() {
	ids := s.mintTo(alice, 2)
	_, err := s.service.SellLand(s.as(alice), models.SellOrder{
		Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0],
	})
	s.Require().NoError(err)
	s.fund(bob, 10_000)

	s.Run("one unlisted id rejects the whole batch", func() {
		_, err := s.service.BuyLand(s.as(bob), ids)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		s.Equal("10000", s.balance(bob), "no partial payment")
		owner, err := s.registry.OwnerOf(s.ctx, ids[0])
		s.Require().NoError(err)
		s.Equal(market, owner, "escrow untouched")
	})

	s.Run("not-sellable listing rejects the batch", func() {
		s.Require().NoError(s.service.AdminSetLandForSell(s.as(deployer),
			[]bool{false}, []domain.TokenID{ids[0]}))
		_, err := s.service.BuyLand(s.as(bob), []domain.TokenID{ids[0]})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("duplicate ids in the batch are rejected", func() {
		_, err := s.service.BuyLand(s.as(bob), []domain.TokenID{ids[0], ids[0]})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("insufficient balance for the batch total", func() {
		poor := domain.Account("poor")
		s.ledger.Mint(s.ctx, poor, uint256.NewInt(50))
		s.ledger.Approve(s.ctx, poor, market, uint256.NewInt(10_000))
		s.Require().NoError(s.service.AdminSetLandForSell(s.as(deployer),
			[]bool{true}, []domain.TokenID{ids[0]}))

		_, err := s.service.BuyLand(s.as(poor), []domain.TokenID{ids[0]})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("50", s.balance(poor))
	})
}

func (s *MarketServiceSuite) TestBuyLandStaleListing() {
	ids := s.mintTo(alice, 1)
	_, err := s.service.SellLand(s.as(alice), models.SellOrder{
		Owner: alice, Price: uint256.NewInt(100), TokenID: ids[0],
	})
	s.Require().NoError(err)

	// Custody leaves the marketplace outside the settlement path.
	s.Require().NoError(s.registry.OperatorTransfer(s.ctx, market, market, alice, ids[0]))

	s.fund(bob, 1000)
	_, err = s.service.BuyLand(s.as(bob), ids)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal("1000", s.balance(bob))
}

// TestPrimaryMarketFlow walks the launch sequence end to end: mint treasury
// inventory, price it by range, and sell one parcel to a funded buyer.
func (s *MarketServiceSuite) TestPrimaryMarketFlow() {
	ids, err := s.service.MintLands(s.as(deployer), 300)
	s.Require().NoError(err)
	s.Require().Len(ids, 300)
	s.Require().NoError(s.service.DefinePricePerRange(s.as(deployer), 1, 300, uint256.NewInt(100)))

	s.fund(bob, 1000)
	receipt, err := s.service.BuyLand(s.as(bob), []domain.TokenID{1})
	s.Require().NoError(err)
	s.Equal("100", receipt.Total.Dec())

	s.Equal("900", s.balance(bob))
	owner, err := s.registry.OwnerOf(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(bob, owner)

	all, err := s.service.AllSellingLands(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 299)

	sold := s.publisher.ByKind(events.KindLandSold)
	s.Require().Len(sold, 1)
	s.Equal(bob, sold[0].Buyer)
	s.Equal("100", sold[0].Price)
}
