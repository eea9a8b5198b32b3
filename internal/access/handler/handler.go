package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"landgrid/internal/access/models"
	"landgrid/internal/platform/middleware"
	"landgrid/internal/transport/http/shared"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
)

// Service is the role-table surface the handler drives.
type Service interface {
	GrantRole(ctx context.Context, role models.Role, account domain.Account) error
	RevokeRole(ctx context.Context, role models.Role, account domain.Account) error
	HasRole(ctx context.Context, role models.Role, account domain.Account) (bool, error)
}

// Handler exposes role administration over HTTP.
type Handler struct {
	access    Service
	logger    *slog.Logger
	validator middleware.CallerValidator
}

// New creates an access Handler.
func New(access Service, logger *slog.Logger, validator middleware.CallerValidator) *Handler {
	return &Handler{access: access, logger: logger, validator: validator}
}

// Register registers the role routes with the chi router. Routes are attached
// in a group so the handler carries its own middleware chain while sharing the
// router with the other modules.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(g chi.Router) {
		g.Use(middleware.Recovery(h.logger))
		g.Use(middleware.RequestID)
		g.Use(middleware.RequestTime)
		g.Use(middleware.Logger(h.logger))
		g.Use(middleware.ContentTypeJSON)
		g.Use(middleware.RequireCaller(h.validator, h.logger))

		g.Get("/admin/roles/{role}/{account}", h.handleHasRole)
		g.Post("/admin/roles/{role}/{account}", h.handleGrantRole)
		g.Delete("/admin/roles/{role}/{account}", h.handleRevokeRole)
	})
}

func (h *Handler) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	role, account, ok := roleParams(w, r)
	if !ok {
		return
	}
	if err := h.access.GrantRole(r.Context(), role, account); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	role, account, ok := roleParams(w, r)
	if !ok {
		return
	}
	if err := h.access.RevokeRole(r.Context(), role, account); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHasRole(w http.ResponseWriter, r *http.Request) {
	role, account, ok := roleParams(w, r)
	if !ok {
		return
	}
	held, err := h.access.HasRole(r.Context(), role, account)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]bool{"held": held})
}

func roleParams(w http.ResponseWriter, r *http.Request) (models.Role, domain.Account, bool) {
	role, err := models.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown role"))
		return "", "", false
	}
	account, err := domain.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid account"))
		return "", "", false
	}
	return role, account, true
}
