package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"landgrid/internal/platform/middleware"
	"landgrid/internal/registry/models"
	"landgrid/internal/transport/http/shared"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
)

// Service is the registry surface the handler drives.
type Service interface {
	MintBatch(ctx context.Context, n int, to domain.Account) ([]domain.TokenID, error)
	GetParcel(ctx context.Context, id domain.TokenID) (*models.Parcel, error)
	SetUser(ctx context.Context, id domain.TokenID, user domain.Account, expires time.Time) error
	Transfer(ctx context.Context, to domain.Account, id domain.TokenID) error
	SetApprovalForAll(ctx context.Context, operator domain.Account, approved bool) error
	TokenURI(ctx context.Context, id domain.TokenID) (string, error)
	UpdateBaseURI(ctx context.Context, baseURI string) error
	AddApp(ctx context.Context, app domain.Account) error
	BalanceOf(ctx context.Context, owner domain.Account) (int, error)
	TotalSupply(ctx context.Context) (uint64, error)
	MaxLands() uint64
}

// Handler exposes the parcel registry over HTTP.
type Handler struct {
	registry  Service
	logger    *slog.Logger
	validator middleware.CallerValidator
}

// New creates a registry Handler.
func New(registry Service, logger *slog.Logger, validator middleware.CallerValidator) *Handler {
	return &Handler{registry: registry, logger: logger, validator: validator}
}

// Register registers the registry routes with the chi router. Routes are
// attached in a group so the handler carries its own middleware chain while
// sharing the router with the other modules.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(g chi.Router) {
		g.Use(middleware.Recovery(h.logger))
		g.Use(middleware.RequestID)
		g.Use(middleware.RequestTime)
		g.Use(middleware.Logger(h.logger))
		g.Use(middleware.ContentTypeJSON)
		g.Use(middleware.RequireCaller(h.validator, h.logger))

		g.Get("/lands/supply", h.handleSupply)
		g.Get("/lands/{id}", h.handleGetParcel)
		g.Get("/lands/{id}/uri", h.handleTokenURI)
		g.Get("/accounts/{account}/balance", h.handleBalance)
		g.Post("/lands/mint", h.handleMint)
		g.Post("/lands/{id}/user", h.handleSetUser)
		g.Post("/lands/{id}/transfer", h.handleTransfer)
		g.Post("/approvals", h.handleSetApproval)
		g.Post("/admin/base-uri", h.handleUpdateBaseURI)
		g.Post("/admin/apps", h.handleAddApp)
	})
}

type mintRequest struct {
	To    string `json:"to"`
	Count int    `json:"count"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	to, err := domain.ParseAccount(req.To)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid recipient account"))
		return
	}
	count := req.Count
	if count == 0 {
		count = 1
	}

	ids, err := h.registry.MintBatch(r.Context(), count, to)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{"token_ids": ids})
}

func (h *Handler) handleGetParcel(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	parcel, err := h.registry.GetParcel(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, parcel)
}

type setUserRequest struct {
	User    string    `json:"user"`
	Expires time.Time `json:"expires"`
}

func (h *Handler) handleSetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req setUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	user, err := domain.ParseAccount(req.User)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid user account"))
		return
	}
	if err := h.registry.SetUser(r.Context(), id, user, req.Expires); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	To string `json:"to"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	to, err := domain.ParseAccount(req.To)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid recipient account"))
		return
	}
	if err := h.registry.Transfer(r.Context(), to, id); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approvalRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

func (h *Handler) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	operator, err := domain.ParseAccount(req.Operator)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid operator account"))
		return
	}
	if err := h.registry.SetApprovalForAll(r.Context(), operator, req.Approved); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTokenURI(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	uri, err := h.registry.TokenURI(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

type baseURIRequest struct {
	BaseURI string `json:"base_uri"`
}

func (h *Handler) handleUpdateBaseURI(w http.ResponseWriter, r *http.Request) {
	var req baseURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.registry.UpdateBaseURI(r.Context(), req.BaseURI); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addAppRequest struct {
	Account string `json:"account"`
}

func (h *Handler) handleAddApp(w http.ResponseWriter, r *http.Request) {
	var req addAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	app, err := domain.ParseAccount(req.Account)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid app account"))
		return
	}
	if err := h.registry.AddApp(r.Context(), app); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid account"))
		return
	}
	balance, err := h.registry.BalanceOf(r.Context(), owner)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (h *Handler) handleSupply(w http.ResponseWriter, r *http.Request) {
	total, err := h.registry.TotalSupply(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"name":         models.CollectionName,
		"symbol":       models.CollectionSymbol,
		"total_supply": total,
		"max_lands":    h.registry.MaxLands(),
	})
}

func tokenIDParam(w http.ResponseWriter, r *http.Request) (domain.TokenID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid token id"))
		return 0, false
	}
	return domain.TokenID(id), true
}
