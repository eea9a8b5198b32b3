package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"landgrid/internal/market/models"
	dErrors "landgrid/pkg/domain-errors"
)

// listingsCacheKey holds the serialized sellable-listings snapshot. The
// snapshot is invalidated on every listing mutation, so the TTL only bounds
// staleness if an invalidation is lost.
const listingsCacheKey = "landgrid:listings:sellable"

// AllSellingLands returns every sellable listing, cheapest-to-serve first
// from the Redis snapshot when one is configured and warm.
func (s *Service) AllSellingLands(ctx context.Context) ([]*models.Listing, error) {
	if cached, ok := s.cachedListings(ctx); ok {
		return cached, nil
	}

	listings, err := s.listings.AllSellable(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load listings")
	}
	s.cacheListings(ctx, listings)
	return listings, nil
}

func (s *Service) cachedListings(ctx context.Context) ([]*models.Listing, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, listingsCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "listings cache read failed", "error", err)
		}
		return nil, false
	}
	var listings []*models.Listing
	if err := json.Unmarshal(raw, &listings); err != nil {
		return nil, false
	}
	return listings, true
}

func (s *Service) cacheListings(ctx context.Context, listings []*models.Listing) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(listings)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, listingsCacheKey, raw, s.cacheTTL).Err(); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "listings cache write failed", "error", err)
	}
}

func (s *Service) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, listingsCacheKey).Err(); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "listings cache invalidation failed", "error", err)
	}
}
