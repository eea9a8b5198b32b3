package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"landgrid/internal/market/models"
	"landgrid/internal/platform/middleware"
	"landgrid/internal/transport/http/shared"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
)

// Service is the marketplace surface the handler drives.
type Service interface {
	SellLand(ctx context.Context, order models.SellOrder) (*models.Listing, error)
	SellBatchLands(ctx context.Context, orders []models.SellOrder) ([]*models.Listing, error)
	ListLand(ctx context.Context, id domain.TokenID, price *uint256.Int) (*models.Listing, error)
	RemoveLand(ctx context.Context, id domain.TokenID) error
	GetListing(ctx context.Context, id domain.TokenID) (*models.Listing, error)
	AllSellingLands(ctx context.Context) ([]*models.Listing, error)
	BuyLand(ctx context.Context, ids []domain.TokenID) (*models.Receipt, error)
	AdminSetLandForSell(ctx context.Context, flags []bool, ids []domain.TokenID) error
	DefinePricePerRange(ctx context.Context, start, end domain.TokenID, price *uint256.Int) error
	GetPricePerRange(ctx context.Context, start, end domain.TokenID) ([]models.TokenPrice, error)
	MintLands(ctx context.Context, n int) ([]domain.TokenID, error)
}

// Handler exposes the marketplace over HTTP. Prices cross the wire as
// decimal strings; 256-bit amounts do not fit JSON numbers.
type Handler struct {
	market    Service
	logger    *slog.Logger
	validator middleware.CallerValidator
}

// New creates a marketplace Handler.
func New(market Service, logger *slog.Logger, validator middleware.CallerValidator) *Handler {
	return &Handler{market: market, logger: logger, validator: validator}
}

// Register registers the marketplace routes with the chi router. Routes are
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

		g.Get("/market/listings", h.handleAllListings)
		g.Get("/market/listings/{id}", h.handleGetListing)
		g.Get("/market/prices", h.handlePriceRange)
		g.Post("/market/sell", h.handleSell)
		g.Post("/market/sell/batch", h.handleSellBatch)
		g.Post("/market/listings/{id}", h.handleList)
		g.Delete("/market/listings/{id}", h.handleRemove)
		g.Post("/market/buy", h.handleBuy)
		g.Post("/admin/market/price-ranges", h.handleDefineRange)
		g.Post("/admin/market/sellable", h.handleSetSellable)
		g.Post("/admin/market/mint", h.handleMintLands)
	})
}

type listingResponse struct {
	TokenID  domain.TokenID `json:"token_id"`
	Seller   string         `json:"seller"`
	Price    string         `json:"price,omitempty"`
	Sellable bool           `json:"sellable"`
}

func toListingResponse(l *models.Listing) listingResponse {
	out := listingResponse{
		TokenID:  l.TokenID,
		Seller:   l.Seller.String(),
		Sellable: l.Sellable,
	}
	if l.Price != nil {
		out.Price = l.Price.Dec()
	}
	return out
}

func toListingResponses(ls []*models.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingResponse(l))
	}
	return out
}

type sellRequest struct {
	TokenID domain.TokenID `json:"token_id"`
	Price   string         `json:"price"`
}

func (h *Handler) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	order, err := h.sellOrder(r, req)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	listing, err := h.market.SellLand(r.Context(), order)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toListingResponse(listing))
}

type sellBatchRequest struct {
	Orders []sellRequest `json:"orders"`
}

func (h *Handler) handleSellBatch(w http.ResponseWriter, r *http.Request) {
	var req sellBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	orders := make([]models.SellOrder, 0, len(req.Orders))
	for _, raw := range req.Orders {
		order, err := h.sellOrder(r, raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		orders = append(orders, order)
	}
	listings, err := h.market.SellBatchLands(r.Context(), orders)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toListingResponses(listings))
}

func (h *Handler) sellOrder(r *http.Request, req sellRequest) (models.SellOrder, error) {
	price, err := parsePrice(req.Price)
	if err != nil {
		return models.SellOrder{}, err
	}
	caller := middleware.GetCaller(r.Context())
	return models.SellOrder{Owner: caller, Price: price, TokenID: req.TokenID}, nil
}

type listRequest struct {
	Price string `json:"price"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	listing, err := h.market.ListLand(r.Context(), id, price)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toListingResponse(listing))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	if err := h.market.RemoveLand(r.Context(), id); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	listing, err := h.market.GetListing(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toListingResponse(listing))
}

func (h *Handler) handleAllListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.market.AllSellingLands(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toListingResponses(listings))
}

type buyRequest struct {
	TokenIDs []domain.TokenID `json:"token_ids"`
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	receipt, err := h.market.BuyLand(r.Context(), req.TokenIDs)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"buyer":     receipt.Buyer.String(),
		"token_ids": receipt.TokenIDs,
		"total":     receipt.Total.Dec(),
		"fees":      receipt.Fees.Dec(),
	})
}

type defineRangeRequest struct {
	StartID domain.TokenID `json:"start_id"`
	EndID   domain.TokenID `json:"end_id"`
	Price   string         `json:"price"`
}

func (h *Handler) handleDefineRange(w http.ResponseWriter, r *http.Request) {
	var req defineRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.market.DefinePricePerRange(r.Context(), req.StartID, req.EndID, price); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePriceRange(w http.ResponseWriter, r *http.Request) {
	start, ok := tokenIDQuery(w, r, "start")
	if !ok {
		return
	}
	end, ok := tokenIDQuery(w, r, "end")
	if !ok {
		return
	}
	prices, err := h.market.GetPricePerRange(r.Context(), start, end)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(prices))
	for _, p := range prices {
		out = append(out, map[string]any{"token_id": p.TokenID, "price": p.Price.Dec()})
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

type setSellableRequest struct {
	TokenIDs []domain.TokenID `json:"token_ids"`
	Sellable []bool           `json:"sellable"`
}

func (h *Handler) handleSetSellable(w http.ResponseWriter, r *http.Request) {
	var req setSellableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.market.AdminSetLandForSell(r.Context(), req.Sellable, req.TokenIDs); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mintLandsRequest struct {
	Count int `json:"count"`
}

func (h *Handler) handleMintLands(w http.ResponseWriter, r *http.Request) {
	var req mintLandsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	ids, err := h.market.MintLands(r.Context(), req.Count)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, map[string]any{"token_ids": ids})
}

func parsePrice(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "price is required")
	}
	price, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "price must be a decimal integer")
	}
	return price, nil
}

func tokenIDParam(w http.ResponseWriter, r *http.Request) (domain.TokenID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := parseTokenID(raw)
	if err != nil {
		shared.WriteError(w, err)
		return 0, false
	}
	return id, true
}

func tokenIDQuery(w http.ResponseWriter, r *http.Request, key string) (domain.TokenID, bool) {
	id, err := parseTokenID(r.URL.Query().Get(key))
	if err != nil {
		shared.WriteError(w, err)
		return 0, false
	}
	return id, true
}

func parseTokenID(raw string) (domain.TokenID, error) {
	id, err := domain.ParseTokenID(raw)
	if err != nil || id == 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid token id")
	}
	return id, nil
}
