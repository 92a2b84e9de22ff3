package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smarterp/smarterp/internal/auth/token"
	"github.com/smarterp/smarterp/internal/platform/httpx"
	"github.com/smarterp/smarterp/internal/shared"
)

// Verifier validates a raw bearer token.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Revocations reports whether a token id was revoked before expiry.
type Revocations interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	ObserveDecision(gate, outcome string)
}

// Decision outcomes reported to the DecisionRecorder.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Middleware wires bearer authentication and RBAC guards for HTTP handlers.
type Middleware struct {
	Verifier    Verifier
	Revocations Revocations
	Resolver    *Resolver
	Logger      *slog.Logger
	Metrics     DecisionRecorder
}

// Authenticate verifies the bearer token and attaches the normalized
// identity to the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := token.ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			m.reject(w, r, "authenticate", err)
			return
		}
		if m.Verifier == nil {
			m.reject(w, r, "authenticate", shared.ErrServerMisconfigured)
			return
		}
		claims, err := m.Verifier.Verify(raw)
		if err != nil {
			m.reject(w, r, "authenticate", err)
			return
		}
		if m.Revocations != nil && claims.ID != "" {
			revoked, err := m.Revocations.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				m.logger().Error("check token revocation", slog.Any("error", err))
				m.reject(w, r, "authenticate", err)
				return
			}
			if revoked {
				m.reject(w, r, "authenticate", shared.ErrInvalidToken)
				return
			}
		}
		id := Normalize(claims)
		m.observe("authenticate", OutcomeAllowed)
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id, claims)))
	})
}

// RequireRole admits callers holding role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.gate("role", func(_ *http.Request, id Identity) error {
		return RequireRole(id, role)
	})
}

// RequireAdmin admits administrators only.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return m.gate("admin", func(_ *http.Request, id Identity) error {
		return RequireAdmin(id)
	})
}

// RequirePermission admits callers holding permission.
func (m Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return m.gate("permission", func(r *http.Request, id Identity) error {
		return m.Resolver.RequirePermission(r.Context(), id, permission)
	})
}

// RequireAny ensures the caller has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.gate("any", func(r *http.Request, id Identity) error {
		return m.Resolver.RequireAny(r.Context(), id, perms...)
	})
}

// RequireAll ensures the caller has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.gate("all", func(r *http.Request, id Identity) error {
		return m.Resolver.RequireAll(r.Context(), id, perms...)
	})
}

// RequireSelfOrAdmin admits administrators and the user named by the chi
// URL parameter param.
func (m Middleware) RequireSelfOrAdmin(param string) func(http.Handler) http.Handler {
	return m.gate("self_or_admin", func(r *http.Request, id Identity) error {
		target, err := ParseTargetID(chi.URLParam(r, param))
		if err != nil {
			return err
		}
		return RequireSelfOrAdmin(id, target)
	})
}

func (m Middleware) gate(name string, check func(*http.Request, Identity) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				m.reject(w, r, name, shared.ErrUnauthenticated)
				return
			}
			if err := check(r, id); err != nil {
				m.reject(w, r, name, err)
				return
			}
			m.observe(name, OutcomeAllowed)
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) reject(w http.ResponseWriter, r *http.Request, gate string, err error) {
	status := httpx.StatusFor(err)
	outcome := OutcomeDenied
	if status >= http.StatusInternalServerError {
		outcome = OutcomeError
		m.logger().Error("rbac gate failed", slog.String("gate", gate), slog.String("path", r.URL.Path), slog.Any("error", err))
	} else if errors.Is(err, shared.ErrAccessDenied) {
		attrs := []any{slog.String("gate", gate), slog.String("path", r.URL.Path)}
		if id, ok := IdentityFromContext(r.Context()); ok {
			attrs = append(attrs, slog.Int64("user_id", id.ID))
		}
		m.logger().Info("rbac access denied", append(attrs, slog.String("reason", err.Error()))...)
	}
	m.observe(gate, outcome)
	httpx.RespondError(w, err)
}

func (m Middleware) observe(gate, outcome string) {
	if m.Metrics != nil {
		m.Metrics.ObserveDecision(gate, outcome)
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
