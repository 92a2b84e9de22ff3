package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/smarterp/smarterp/internal/platform/httpx"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes. Callers must already be authenticated.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(shared.PermUsersView)).Get("/", h.listUsers)
	r.With(h.rbac.RequireAdmin()).Post("/", h.createUser)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireSelfOrAdmin("userID"))
		r.Get("/{userID}", h.getUser)
		r.Put("/{userID}", h.updateUser)
		r.Delete("/{userID}", h.deleteUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAdmin())
		r.Post("/{userID}/roles", h.assignRole)
		r.Delete("/{userID}/roles/{roleID}", h.removeRole)
		r.Put("/{userID}/active", h.setActive)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Validationf("malformed request body"))
		return
	}
	user, err := h.service.CreateUser(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Validationf("malformed request body"))
		return
	}
	user, err := h.service.UpdateUser(r.Context(), actorID(r), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteUser(r.Context(), actorID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in AssignRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Validationf("malformed request body"))
		return
	}
	if err := h.validator.Struct(in); err != nil {
		h.fail(w, r, shared.Validationf("role is required (max 50 characters)"))
		return
	}
	role, err := h.service.AssignRole(r.Context(), actorID(r), id, in.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, err := rbac.ParseTargetID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	roleID, err := rbac.ParseTargetID(chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.RemoveRole(r.Context(), actorID(r), userID, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in StatusInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Validationf("malformed request body"))
		return
	}
	if err := h.validator.Struct(in); err != nil {
		h.fail(w, r, shared.Validationf("active is required"))
		return
	}
	if err := h.service.SetActive(r.Context(), actorID(r), id, *in.Active); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("users request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) int64 {
	id, _ := rbac.IdentityFromContext(r.Context())
	return id.ID
}
