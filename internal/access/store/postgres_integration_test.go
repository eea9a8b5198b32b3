//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"landgrid/internal/access/models"
	"landgrid/internal/access/store"
	"landgrid/pkg/testutil/containers"
)

type RolePostgresSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestRolePostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RolePostgresSuite))
}

func (s *RolePostgresSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *RolePostgresSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
}

func (s *RolePostgresSuite) TestGrantRevoke() {
	ctx := context.Background()

	changed, err := s.store.Grant(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.store.Grant(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.False(changed, "regrant reports no change")

	held, err := s.store.Has(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.True(held)

	changed, err = s.store.Revoke(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.True(changed)

	held, err = s.store.Has(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.False(held)

	changed, err = s.store.Revoke(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.False(changed, "revoking an unheld role reports no change")
}

func (s *RolePostgresSuite) TestRolesAreIndependent() {
	ctx := context.Background()

	_, err := s.store.Grant(ctx, models.RoleAdmin, "alice")
	s.Require().NoError(err)

	held, err := s.store.Has(ctx, models.RoleMinter, "alice")
	s.Require().NoError(err)
	s.False(held)
}
