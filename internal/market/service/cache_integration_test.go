//go:build integration

package service

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	accessmodels "landgrid/internal/access/models"
	accessservice "landgrid/internal/access/service"
	accessstore "landgrid/internal/access/store"
	"landgrid/internal/market/models"
	marketstore "landgrid/internal/market/store"
	platformredis "landgrid/internal/platform/redis"
	registryservice "landgrid/internal/registry/service"
	registrystore "landgrid/internal/registry/store"
	"landgrid/internal/token"
	"landgrid/pkg/requestcontext"
	"landgrid/pkg/testutil/containers"
)

func TestListingsCacheWithRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	cache, err := platformredis.New(rc.Addr)
	require.NoError(t, err)

	ctx := context.Background()
	access := accessservice.New(accessstore.NewMemory())
	require.NoError(t, access.Seed(ctx, deployer))
	deployerCtx := requestcontext.WithCaller(ctx, deployer)
	require.NoError(t, access.GrantRole(deployerCtx, accessmodels.RoleMinter, market))

	registry := registryservice.New(registrystore.NewMemory(), access, "https://api.neoki.io/LANDS", 1000)
	require.NoError(t, registry.AddApp(deployerCtx, market))

	listings := marketstore.NewMemory()
	svc := New(listings, registry, access, token.NewMemoryLedger(),
		market, treasury, 400,
		WithListingsCache(cache, time.Minute))

	_, err = svc.MintLands(deployerCtx, 3)
	require.NoError(t, err)

	// Cold read fills the cache.
	all, err := svc.AllSellingLands(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, int64(1), cache.Exists(ctx, listingsCacheKey).Val())

	// A direct store write the cache does not know about is masked by the
	// warm snapshot.
	require.NoError(t, listings.Create(ctx, &models.Listing{
		TokenID: 99, Seller: treasury, Price: uint256.NewInt(1), Sellable: true,
	}))
	all, err = svc.AllSellingLands(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// A service mutation invalidates the snapshot and the next read is fresh.
	require.NoError(t, svc.DefinePricePerRange(deployerCtx, 1, 10, uint256.NewInt(50)))
	require.Equal(t, int64(0), cache.Exists(ctx, listingsCacheKey).Val())

	all, err = svc.AllSellingLands(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
}
