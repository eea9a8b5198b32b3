package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	accessservice "landgrid/internal/access/service"
	accessstore "landgrid/internal/access/store"
	"landgrid/internal/platform/middleware"
	registryservice "landgrid/internal/registry/service"
	registrystore "landgrid/internal/registry/store"
	"landgrid/pkg/domain"
)

const (
	deployer = domain.Account("deployer")
	alice    = domain.Account("alice")
	bob      = domain.Account("bob")
)

type RegistryHandlerSuite struct {
	suite.Suite
	router    http.Handler
	validator *middleware.HMACValidator
}

func TestRegistryHandlerSuite(t *testing.T) {
	suite.Run(t, new(RegistryHandlerSuite))
}

func (s *RegistryHandlerSuite) SetupTest() {
	access := accessservice.New(accessstore.NewMemory())
	s.Require().NoError(access.Seed(s.T().Context(), deployer))
	registry := registryservice.New(registrystore.NewMemory(), access, "https://api.neoki.io/LANDS", 100)

	s.validator = middleware.NewHMACValidator("test-signing-key")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(registry, logger, s.validator).Register(r)
	s.router = r
}

func (s *RegistryHandlerSuite) do(caller domain.Account, method, path string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		s.Require().NoError(err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if !caller.IsZero() {
		tok, err := s.validator.IssueToken(caller)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RegistryHandlerSuite) mint(to domain.Account, n int) []domain.TokenID {
	rec := s.do(deployer, http.MethodPost, "/lands/mint", map[string]any{
		"to": to.String(), "count": n,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		TokenIDs []domain.TokenID `json:"token_ids"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.TokenIDs
}

func (s *RegistryHandlerSuite) TestMint() {
	s.Run("minter mints a batch", func() {
		ids := s.mint(alice, 3)
		s.Equal([]domain.TokenID{1, 2, 3}, ids)
	})

	s.Run("non-minter is 401", func() {
		rec := s.do(alice, http.MethodPost, "/lands/mint", map[string]any{"to": "alice"})
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("batch over the cap is 409", func() {
		rec := s.do(deployer, http.MethodPost, "/lands/mint", map[string]any{
			"to": "alice", "count": 200,
		})
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *RegistryHandlerSuite) TestSupply() {
	s.mint(alice, 2)

	rec := s.do(alice, http.MethodGet, "/lands/supply", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		Name        string `json:"name"`
		Symbol      string `json:"symbol"`
		TotalSupply uint64 `json:"total_supply"`
		MaxLands    uint64 `json:"max_lands"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("Neoki LANDS", resp.Name)
	s.Equal("LANDS", resp.Symbol)
	s.Equal(uint64(2), resp.TotalSupply)
	s.Equal(uint64(100), resp.MaxLands)
}

func (s *RegistryHandlerSuite) TestParcelLifecycle() {
	ids := s.mint(alice, 1)
	path := fmt.Sprintf("/lands/%d", ids[0])

	s.Run("owner assigns a user", func() {
		rec := s.do(alice, http.MethodPost, path+"/user", map[string]any{
			"user":    bob.String(),
			"expires": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(alice, http.MethodGet, path, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var parcel struct {
			Owner string `json:"owner"`
			User  string `json:"user"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &parcel))
		s.Equal(alice.String(), parcel.Owner)
		s.Equal(bob.String(), parcel.User)
	})

	s.Run("owner transfers", func() {
		rec := s.do(alice, http.MethodPost, path+"/transfer", map[string]any{"to": bob.String()})
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(alice, http.MethodGet, fmt.Sprintf("/accounts/%s/balance", bob), nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		var resp struct {
			Balance int `json:"balance"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal(1, resp.Balance)
	})

	s.Run("non-owner transfer is 401", func() {
		rec := s.do(alice, http.MethodPost, path+"/transfer", map[string]any{"to": alice.String()})
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("unknown parcel is 404", func() {
		rec := s.do(alice, http.MethodGet, "/lands/99", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *RegistryHandlerSuite) TestTokenURI() {
	ids := s.mint(alice, 1)

	rec := s.do(alice, http.MethodGet, fmt.Sprintf("/lands/%d/uri", ids[0]), nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		URI string `json:"uri"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("https://api.neoki.io/LANDS/1.json", resp.URI)
}
