package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	accesshandler "landgrid/internal/access/handler"
	accessmodels "landgrid/internal/access/models"
	accessservice "landgrid/internal/access/service"
	accessstore "landgrid/internal/access/store"
	markethandler "landgrid/internal/market/handler"
	marketservice "landgrid/internal/market/service"
	marketstore "landgrid/internal/market/store"
	"landgrid/internal/platform/middleware"
	registryhandler "landgrid/internal/registry/handler"
	registryservice "landgrid/internal/registry/service"
	registrystore "landgrid/internal/registry/store"
	"landgrid/internal/token"
	"landgrid/pkg/domain"
	"landgrid/pkg/requestcontext"
)

const (
	deployer    = domain.Account("deployer")
	marketplace = domain.Account("marketplace")
	treasury    = domain.Account("treasury")
)

// RouterWiringSuite registers every handler on one router the way main does
// and drives a route from each module through it.
type RouterWiringSuite struct {
	suite.Suite
	router    http.Handler
	validator *middleware.HMACValidator
}

func TestRouterWiringSuite(t *testing.T) {
	suite.Run(t, new(RouterWiringSuite))
}

func (s *RouterWiringSuite) SetupTest() {
	ctx := s.T().Context()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	access := accessservice.New(accessstore.NewMemory())
	s.Require().NoError(access.Seed(ctx, deployer))

	deployerCtx := requestcontext.WithCaller(ctx, deployer)
	s.Require().NoError(access.GrantRole(deployerCtx, accessmodels.RoleMinter, marketplace))

	registry := registryservice.New(registrystore.NewMemory(), access, "https://api.neoki.io/LANDS", 1000)
	s.Require().NoError(registry.AddApp(deployerCtx, marketplace))

	market := marketservice.New(marketstore.NewMemory(), registry, access, token.NewMemoryLedger(),
		marketplace, treasury, 400)

	s.validator = middleware.NewHMACValidator("test-signing-key")
	router := chi.NewRouter()
	accesshandler.New(access, log, s.validator).Register(router)
	registryhandler.New(registry, log, s.validator).Register(router)
	markethandler.New(market, log, s.validator).Register(router)
	s.router = router
}

func (s *RouterWiringSuite) get(caller domain.Account, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	tok, err := s.validator.IssueToken(caller)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterWiringSuite) TestAllModulesServe() {
	s.Run("access routes", func() {
		rec := s.get(deployer, "/admin/roles/admin/deployer")
		s.Equal(http.StatusOK, rec.Code, rec.Body.String())
	})

	s.Run("registry routes", func() {
		rec := s.get(deployer, "/lands/supply")
		s.Equal(http.StatusOK, rec.Code, rec.Body.String())
	})

	s.Run("market routes", func() {
		rec := s.get(deployer, "/market/listings")
		s.Equal(http.StatusOK, rec.Code, rec.Body.String())
	})
}
