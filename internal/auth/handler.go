package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smarterp/smarterp/internal/platform/httpx"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/shared"
)

// Revoker revokes a token id until its expiry.
type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	service *Service
	revoker Revoker
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, revoker Revoker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, revoker: revoker}
}

// MountRoutes registers auth routes on provided router. Login is public and
// wrapped by loginLimit when given; the remaining routes require authenticate.
func (h *Handler) MountRoutes(r chi.Router, authenticate, loginLimit func(http.Handler) http.Handler) {
	login := http.Handler(http.HandlerFunc(h.handleLogin))
	if loginLimit != nil {
		login = loginLimit(login)
	}
	r.Method(http.MethodPost, "/login", login)
	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input LoginInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, shared.Validationf("malformed request body"))
		return
	}
	session, err := h.service.Login(r.Context(), input)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			err = rejected.Err
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session.Response())
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	session, err := h.service.Refresh(r.Context(), id.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.revokeCurrent(r)
	httpx.JSON(w, http.StatusOK, session.Response())
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if h.revoker == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	claims := rbac.ClaimsFromContext(r.Context())
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		httpx.RespondError(w, shared.ErrInvalidToken)
		return
	}
	if err := h.revoker.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		h.logger.Error("revoke token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, id.View())
}

func (h *Handler) revokeCurrent(r *http.Request) {
	claims := rbac.ClaimsFromContext(r.Context())
	if h.revoker == nil || claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return
	}
	if err := h.revoker.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		h.logger.Warn("revoke refreshed token", slog.Any("error", err))
	}
}
