// Package service implements the marketplace: the listing ledger with
// escrow-by-transfer, the price-range table, and atomic batch settlement
// against the external payment token.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	accessmodels "landgrid/internal/access/models"
	marketmetrics "landgrid/internal/market/metrics"
	"landgrid/internal/market/models"
	"landgrid/internal/platform/events"
	platformredis "landgrid/internal/platform/redis"
	"landgrid/internal/token"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
	"landgrid/pkg/platform/sentinel"
	"landgrid/pkg/requestcontext"
)

// feeDenominator is the basis-point scale for the marketplace fee.
const feeDenominator = 10_000

// Store persists listings and price ranges.
type Store interface {
	Create(ctx context.Context, l *models.Listing) error
	CreateBatch(ctx context.Context, ls []*models.Listing) error
	Get(ctx context.Context, id domain.TokenID) (*models.Listing, error)
	Remove(ctx context.Context, id domain.TokenID) (*models.Listing, error)
	Execute(ctx context.Context, id domain.TokenID, validate func(*models.Listing) error, mutate func(*models.Listing)) (*models.Listing, error)
	AllSellable(ctx context.Context) ([]*models.Listing, error)
	AddRange(ctx context.Context, r models.PriceRange) error
	RangeFor(ctx context.Context, id domain.TokenID) (*models.PriceRange, error)
	ApplyRangeToListings(ctx context.Context, r models.PriceRange, seller domain.Account) (int, error)
}

// Registry is the parcel-registry surface the marketplace drives. The
// marketplace account is registered as a trusted app, so OperatorTransfer
// moves parcels in and out of custody without per-owner approvals.
type Registry interface {
	OwnerOf(ctx context.Context, id domain.TokenID) (domain.Account, error)
	OperatorTransfer(ctx context.Context, operator, from, to domain.Account, id domain.TokenID) error
	IsApprovedForAll(ctx context.Context, owner, operator domain.Account) (bool, error)
	MintBatch(ctx context.Context, n int, to domain.Account) ([]domain.TokenID, error)
	MaxLands() uint64
}

// AccessChecker gates privileged marketplace operations on the role table.
type AccessChecker interface {
	RequireRole(ctx context.Context, role accessmodels.Role) error
}

// StoreTx runs a function within a storage transaction. The in-memory
// implementation serializes settlements behind a mutex; the postgres
// implementation opens a database transaction and threads it through the
// context so every store call inside fn shares it.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the marketplace settlement engine.
type Service struct {
	listings Store
	registry Registry
	access   AccessChecker
	ledger   token.Ledger
	tx       StoreTx

	// account is the marketplace custody account: escrowed parcels are owned
	// by it, and it is the spender for every payment pull.
	account  domain.Account
	treasury domain.Account
	feeBps   uint64

	cache    *platformredis.Client
	cacheTTL time.Duration

	logger    *slog.Logger
	publisher events.Publisher
	metrics   *marketmetrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *marketmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTx(tx StoreTx) Option {
	return func(s *Service) { s.tx = tx }
}

// WithListingsCache enables the Redis snapshot cache for AllSellingLands.
func WithListingsCache(cache *platformredis.Client, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// New constructs the marketplace service. feeBps is the marketplace cut in
// basis points, skimmed to the treasury on secondary sales.
func New(
	listings Store,
	registry Registry,
	access AccessChecker,
	ledger token.Ledger,
	account, treasury domain.Account,
	feeBps uint64,
	opts ...Option,
) *Service {
	s := &Service{
		listings: listings,
		registry: registry,
		access:   access,
		ledger:   ledger,
		tx:       newInMemoryStoreTx(),
		account:  account,
		treasury: treasury,
		feeBps:   feeBps,
		tracer:   otel.Tracer("landgrid/market"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account returns the marketplace custody account.
func (s *Service) Account() domain.Account {
	return s.account
}

// SellLand escrows the caller's parcel into marketplace custody and records
// the listing. The caller keeps seller credit; no per-owner approval is
// needed because the marketplace moves the parcel as a trusted app.
func (s *Service) SellLand(ctx context.Context, order models.SellOrder) (*models.Listing, error) {
	listings, err := s.SellBatchLands(ctx, []models.SellOrder{order})
	if err != nil {
		return nil, err
	}
	return listings[0], nil
}

// SellBatchLands escrows and lists every order or none of them.
func (s *Service) SellBatchLands(ctx context.Context, orders []models.SellOrder) ([]*models.Listing, error) {
	ctx, span := s.tracer.Start(ctx, "market.SellBatchLands")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}
	if len(orders) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one sell order is required")
	}

	var out []*models.Listing
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		seen := make(map[domain.TokenID]struct{}, len(orders))
		for _, order := range orders {
			if err := order.Validate(); err != nil {
				return err
			}
			if order.Owner != caller {
				return dErrors.New(dErrors.CodeUnauthorized, "caller does not own LAND")
			}
			if _, dup := seen[order.TokenID]; dup {
				return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("token %d repeated in batch", order.TokenID))
			}
			seen[order.TokenID] = struct{}{}
			if err := s.requireOwnership(ctx, order.TokenID, caller); err != nil {
				return err
			}
			if err := s.requireUnlisted(ctx, order.TokenID); err != nil {
				return err
			}
		}

		// Every order validated; escrow and record.
		for _, order := range orders {
			if err := s.registry.OperatorTransfer(ctx, s.account, caller, s.account, order.TokenID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to escrow LAND")
			}
			listing := &models.Listing{
				TokenID:  order.TokenID,
				Seller:   caller,
				Price:    order.Price.Clone(),
				Sellable: true,
			}
			if err := s.listings.Create(ctx, listing); err != nil {
				return s.wrapListingErr(err)
			}
			out = append(out, listing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx)
	if s.metrics != nil {
		s.metrics.AddListings(len(out))
	}
	ids := make([]domain.TokenID, 0, len(out))
	var price string
	for _, l := range out {
		ids = append(ids, l.TokenID)
	}
	if len(out) == 1 {
		price = out[0].Price.Dec()
	}
	s.emit(ctx, events.Event{Kind: events.KindLandListed, TokenIDs: ids, Seller: caller, Price: price})
	return out, nil
}

// ListLand records a listing for a parcel the caller has operator-approved
// the marketplace for. Unlike SellLand it demands an explicit approval, so
// wallets that never interacted with the marketplace cannot be escrowed.
func (s *Service) ListLand(ctx context.Context, id domain.TokenID, price *uint256.Int) (*models.Listing, error) {
	ctx, span := s.tracer.Start(ctx, "market.ListLand")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}
	order := models.SellOrder{Owner: caller, Price: price, TokenID: id}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	var listing *models.Listing
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requireOwnership(ctx, id, caller); err != nil {
			return err
		}
		approved, err := s.registry.IsApprovedForAll(ctx, caller, s.account)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check approval")
		}
		if !approved {
			return dErrors.New(dErrors.CodeUnauthorized, "marketplace is not approved to transfer caller's LANDs")
		}
		if err := s.requireUnlisted(ctx, id); err != nil {
			return err
		}
		if err := s.registry.OperatorTransfer(ctx, s.account, caller, s.account, id); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to escrow LAND")
		}
		listing = &models.Listing{TokenID: id, Seller: caller, Price: price.Clone(), Sellable: true}
		if err := s.listings.Create(ctx, listing); err != nil {
			return s.wrapListingErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx)
	if s.metrics != nil {
		s.metrics.AddListings(1)
	}
	s.emit(ctx, events.Event{Kind: events.KindLandListed, TokenIDs: []domain.TokenID{id}, Seller: caller, Price: price.Dec()})
	return listing, nil
}

// RemoveLand withdraws a listing and returns the parcel to its seller.
// Only the seller (or an admin, to clean up stuck inventory) may withdraw.
func (s *Service) RemoveLand(ctx context.Context, id domain.TokenID) error {
	ctx, span := s.tracer.Start(ctx, "market.RemoveLand")
	defer span.End()

	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}

	var removed *models.Listing
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.listings.Get(ctx, id)
		if err != nil {
			return s.wrapListingErr(err)
		}
		if listing.Seller != caller {
			if err := s.access.RequireRole(ctx, accessmodels.RoleAdmin); err != nil {
				return dErrors.New(dErrors.CodeUnauthorized, "only the seller may withdraw a listing")
			}
		}
		if err := s.registry.OperatorTransfer(ctx, s.account, s.account, listing.Seller, id); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to return LAND to seller")
		}
		removed, err = s.listings.Remove(ctx, id)
		if err != nil {
			return s.wrapListingErr(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx)
	if s.metrics != nil {
		s.metrics.IncrementRemoved()
	}
	s.emit(ctx, events.Event{Kind: events.KindLandDelisted, TokenIDs: []domain.TokenID{id}, Seller: removed.Seller})
	return nil
}

// GetListing returns the listing for id.
func (s *Service) GetListing(ctx context.Context, id domain.TokenID) (*models.Listing, error) {
	listing, err := s.listings.Get(ctx, id)
	if err != nil {
		return nil, s.wrapListingErr(err)
	}
	return listing, nil
}

// AdminSetLandForSell toggles the sellable flag on existing listings. The
// two slices are parallel; a length mismatch rejects the whole call.
func (s *Service) AdminSetLandForSell(ctx context.Context, flags []bool, ids []domain.TokenID) error {
	ctx, span := s.tracer.Start(ctx, "market.AdminSetLandForSell")
	defer span.End()

	if err := s.access.RequireRole(ctx, accessmodels.RoleAdmin); err != nil {
		return err
	}
	if len(flags) != len(ids) {
		return dErrors.New(dErrors.CodeBadRequest, "flags and token ids must have equal length")
	}
	if len(ids) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one token id is required")
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			if _, err := s.listings.Get(ctx, id); err != nil {
				return s.wrapListingErr(err)
			}
		}
		for i, id := range ids {
			sellable := flags[i]
			if _, err := s.listings.Execute(ctx, id, nil, func(l *models.Listing) {
				l.Sellable = sellable
			}); err != nil {
				return s.wrapListingErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx)
	return nil
}

// DefinePricePerRange records a bulk unit price for a contiguous id range
// and back-fills it into priceless treasury listings inside the range.
// Overlapping an existing range is rejected rather than silently shadowed.
func (s *Service) DefinePricePerRange(ctx context.Context, start, end domain.TokenID, price *uint256.Int) error {
	ctx, span := s.tracer.Start(ctx, "market.DefinePricePerRange")
	defer span.End()

	if err := s.access.RequireRole(ctx, accessmodels.RoleAdmin); err != nil {
		return err
	}
	if start == 0 || end < start {
		return dErrors.New(dErrors.CodeBadRequest, "invalid price range bounds")
	}
	if end > domain.TokenID(s.registry.MaxLands()) {
		return dErrors.New(dErrors.CodeBadRequest, "price range exceeds land supply")
	}
	if price == nil || price.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "range price must be positive")
	}

	r := models.PriceRange{StartID: start, EndID: end, Price: price}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.listings.AddRange(ctx, r); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "price range overlaps an existing range")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record price range")
		}
		if _, err := s.listings.ApplyRangeToListings(ctx, r, s.treasury); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to back-fill range price")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx)
	s.emit(ctx, events.Event{
		Kind:     events.KindPriceRangeDefined,
		TokenIDs: []domain.TokenID{start, end},
		Price:    price.Dec(),
	})
	return nil
}

// GetPricePerRange resolves the effective price for every parcel in
// [start, end]. An explicit listing price wins over the covering range;
// unlisted parcels inherit the range price. Parcels with no price source at
// all are omitted.
func (s *Service) GetPricePerRange(ctx context.Context, start, end domain.TokenID) ([]models.TokenPrice, error) {
	if start == 0 || end < start {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid price range bounds")
	}
	// Token ids never exceed the supply cap; bounding the range here keeps a
	// single request from walking an arbitrarily large id space.
	if end > domain.TokenID(s.registry.MaxLands()) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "price range exceeds land supply")
	}

	out := make([]models.TokenPrice, 0, end-start+1)
	for id := start; id <= end; id++ {
		listing, err := s.listings.Get(ctx, id)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.wrapListingErr(err)
		}

		var price *uint256.Int
		if listing != nil {
			price, err = s.effectivePrice(ctx, listing)
		} else {
			var r *models.PriceRange
			r, err = s.listings.RangeFor(ctx, id)
			if err == nil {
				price = r.Price
			}
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.TokenPrice{TokenID: id, Price: price})
	}
	return out, nil
}

// MintLands mints n parcels straight into marketplace custody and lists
// them for the treasury. Prices come later via DefinePricePerRange.
func (s *Service) MintLands(ctx context.Context, n int) ([]domain.TokenID, error) {
	ctx, span := s.tracer.Start(ctx, "market.MintLands")
	defer span.End()

	if err := s.access.RequireRole(ctx, accessmodels.RoleAdmin); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "mint amount must be positive")
	}

	var ids []domain.TokenID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// The registry checks the minter role against the context caller;
		// mint on the marketplace account's own authority.
		mintCtx := requestcontext.WithCaller(ctx, s.account)
		minted, err := s.registry.MintBatch(mintCtx, n, s.account)
		if err != nil {
			return err
		}
		listings := make([]*models.Listing, 0, len(minted))
		for _, id := range minted {
			listings = append(listings, &models.Listing{
				TokenID:  id,
				Seller:   s.treasury,
				Sellable: true,
			})
		}
		if err := s.listings.CreateBatch(ctx, listings); err != nil {
			return s.wrapListingErr(err)
		}
		ids = minted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx)
	if s.metrics != nil {
		s.metrics.AddListings(len(ids))
	}
	s.emit(ctx, events.Event{Kind: events.KindLandListed, TokenIDs: ids, Seller: s.treasury})
	return ids, nil
}

func (s *Service) requireOwnership(ctx context.Context, id domain.TokenID, owner domain.Account) error {
	current, err := s.registry.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if current != owner {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not own LAND")
	}
	return nil
}

func (s *Service) requireUnlisted(ctx context.Context, id domain.TokenID) error {
	_, err := s.listings.Get(ctx, id)
	if err == nil {
		return dErrors.New(dErrors.CodeConflict, "cannot override existing LAND listing")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	return s.wrapListingErr(err)
}

// effectivePrice resolves what a buyer pays for a listing: its explicit
// price, else the covering range price. sentinel.ErrNotFound means the
// parcel has no price at all yet.
func (s *Service) effectivePrice(ctx context.Context, listing *models.Listing) (*uint256.Int, error) {
	if listing.Price != nil {
		return listing.Price, nil
	}
	r, err := s.listings.RangeFor(ctx, listing.TokenID)
	if err != nil {
		return nil, err
	}
	return r.Price, nil
}

func (s *Service) wrapListingErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "LAND not for sell")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "cannot override existing LAND listing")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "listing store failure")
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	event.Actor = requestcontext.Caller(ctx)
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)

	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event.Kind),
			"token_ids", event.TokenIDs,
			"actor", event.Actor.String(),
			"request_id", event.RequestID,
		)
	}
	if s.publisher != nil {
		_ = s.publisher.Emit(ctx, event)
	}
}
