package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smarterp/smarterp/internal/audit"
	"github.com/smarterp/smarterp/internal/auth"
	"github.com/smarterp/smarterp/internal/observability"
	"github.com/smarterp/smarterp/internal/permissions"
	"github.com/smarterp/smarterp/internal/platform/db"
	"github.com/smarterp/smarterp/internal/platform/httpx"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/roles"
	"github.com/smarterp/smarterp/internal/users"
	"github.com/smarterp/smarterp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Pool               db.Pinger
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *permissions.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with SmartERP defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.Pool))
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		var loginLimit func(http.Handler) http.Handler
		if params.Config != nil {
			loginLimit = LoginLimiter(params.Config.LoginRateLimit)
		}
		r.Route("/auth", func(r chi.Router) {
			params.AuthHandler.MountRoutes(r, params.RBACMiddleware.Authenticate, loginLimit)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAdmin())
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}

func healthz(pool db.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := db.Healthy(r.Context(), pool, 2*time.Second); err != nil {
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
