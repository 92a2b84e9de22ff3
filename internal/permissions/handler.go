package permissions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarterp/smarterp/internal/platform/httpx"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/shared"
)

// Handler exposes permission catalogue and role mapping endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes. Callers must already be authenticated.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/with-roles", h.listWithRoles)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAdmin())
		r.Post("/", h.create)
		r.Put("/{permissionID}", h.update)
		r.Delete("/{permissionID}", h.delete)
		r.Get("/roles/{roleID}", h.listByRole)
		r.Put("/roles/{roleID}", h.replace)
		r.Post("/roles/{roleID}/{permissionID}", h.assign)
		r.Delete("/roles/{roleID}/{permissionID}", h.remove)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(perms))
}

func (h *Handler) listWithRoles(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListWithRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(perms))
}

func (h *Handler) listByRole(w http.ResponseWriter, r *http.Request) {
	roleID, err := rbac.ParseTargetID(chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perms, err := h.service.ListByRole(r.Context(), roleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(perms))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Validationf("malformed request body"))
		return
	}
	created, err := h.service.Create(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "permissionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, shared.Validationf("malformed request body"))
		return
	}
	updated, err := h.service.Update(r.Context(), actorID(r), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := rbac.ParseTargetID(chi.URLParam(r, "permissionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), actorID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	roleID, permissionID, err := mappingIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Assign(r.Context(), actorID(r), roleID, permissionID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	roleID, permissionID, err := mappingIDs(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Remove(r.Context(), actorID(r), roleID, permissionID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	roleID, err := rbac.ParseTargetID(chi.URLParam(r, "roleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in ReplaceInput
	if err := httpx.DecodeJSON(r, &in); err != nil || in.PermissionIDs == nil {
		h.fail(w, r, shared.Validationf("permission_ids must be an array"))
		return
	}
	perms, err := h.service.Replace(r.Context(), actorID(r), roleID, in.PermissionIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(perms))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("permissions request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func mappingIDs(r *http.Request) (int64, int64, error) {
	roleID, err := rbac.ParseTargetID(chi.URLParam(r, "roleID"))
	if err != nil {
		return 0, 0, err
	}
	permissionID, err := rbac.ParseTargetID(chi.URLParam(r, "permissionID"))
	if err != nil {
		return 0, 0, err
	}
	return roleID, permissionID, nil
}

func actorID(r *http.Request) int64 {
	id, _ := rbac.IdentityFromContext(r.Context())
	return id.ID
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
