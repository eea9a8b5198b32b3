//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"landgrid/internal/registry/models"
	"landgrid/internal/registry/store"
	"landgrid/pkg/domain"
	"landgrid/pkg/platform/sentinel"
	"landgrid/pkg/testutil/containers"
)

type ParcelPostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestParcelPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ParcelPostgresSuite))
}

func (s *ParcelPostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *ParcelPostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
}

func (s *ParcelPostgresSuite) TestMintBatchCap() {
	ctx := context.Background()

	ids, err := s.store.MintBatch(ctx, "alice", 3, 5)
	s.Require().NoError(err)
	s.Equal([]domain.TokenID{1, 2, 3}, ids)

	_, err = s.store.MintBatch(ctx, "alice", 3, 5)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	total, err := s.store.Total(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(3), total, "failed batch must not advance the counter")
}

// TestConcurrentMinting verifies the counter row keeps concurrent batches
// under the cap with no id reuse.
func (s *ParcelPostgresSuite) TestConcurrentMinting() {
	ctx := context.Background()
	const goroutines = 20
	const maxSupply = 10

	var wg sync.WaitGroup
	var success atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.MintBatch(ctx, "alice", 1, maxSupply); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(maxSupply), success.Load())
	total, err := s.store.Total(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(maxSupply), total)
}

func (s *ParcelPostgresSuite) TestParcelRoundTrip() {
	ctx := context.Background()
	ids, err := s.store.MintBatch(ctx, "alice", 1, 10)
	s.Require().NoError(err)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	_, err = s.store.Execute(ctx, ids[0],
		func(p *models.Parcel) error { return nil },
		func(p *models.Parcel) {
			p.User = "bob"
			p.UserExpires = expires
		},
	)
	s.Require().NoError(err)

	parcel, err := s.store.Get(ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(domain.Account("alice"), parcel.Owner)
	s.Equal(domain.Account("bob"), parcel.User)
	s.True(parcel.UserExpires.Equal(expires))
}

func (s *ParcelPostgresSuite) TestApprovalsAndApps() {
	ctx := context.Background()

	s.Require().NoError(s.store.SetApproval(ctx, "alice", "market", true))
	ok, err := s.store.IsApproved(ctx, "alice", "market")
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.store.AddApp(ctx, "market"))
	s.Require().NoError(s.store.AddApp(ctx, "market"), "re-adding an app is idempotent")
	ok, err = s.store.IsApp(ctx, "market")
	s.Require().NoError(err)
	s.True(ok)
}
