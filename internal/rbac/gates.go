package rbac

import (
	"context"
	"strconv"
	"strings"

	"github.com/smarterp/smarterp/internal/shared"
)

// HasRole reports whether id holds role, case-insensitively.
func HasRole(id Identity, role string) bool {
	return id.Roles.Has(role)
}

// IsAdmin reports whether id holds the admin role.
func IsAdmin(id Identity) bool {
	return HasRole(id, shared.RoleAdmin)
}

// RequireRole denies unless id holds role.
func RequireRole(id Identity, role string) error {
	if HasRole(id, role) {
		return nil
	}
	return shared.Denied(shared.RequirementRole, Canonical(role))
}

// RequireAdmin denies unless id is an administrator.
func RequireAdmin(id Identity) error {
	return RequireRole(id, shared.RoleAdmin)
}

// RequireSelfOrAdmin allows administrators and the target user themself.
// A non-positive target is a validation error, reported before any decision.
func RequireSelfOrAdmin(id Identity, targetID int64) error {
	if targetID <= 0 {
		return shared.Validationf("user id must be a positive integer")
	}
	if IsAdmin(id) || id.ID == targetID {
		return nil
	}
	return shared.Denied(shared.RequirementOwner, strconv.FormatInt(targetID, 10))
}

// ParseTargetID parses a path id, rejecting non-integer and non-positive input.
func ParseTargetID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("id %q must be a positive integer", raw)
	}
	return id, nil
}

// RequirePermission denies unless id holds permission.
func (r *Resolver) RequirePermission(ctx context.Context, id Identity, permission string) error {
	ok, err := r.HasPermission(ctx, id, permission)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Denied(shared.RequirementPermission, Canonical(permission))
	}
	return nil
}

// RequireAny denies unless id holds one of permissions.
func (r *Resolver) RequireAny(ctx context.Context, id Identity, permissions ...string) error {
	ok, err := r.HasAny(ctx, id, permissions...)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Denied(shared.RequirementPermission, strings.Join(normalizePermissions(permissions), "|"))
	}
	return nil
}

// RequireAll denies with the first permission id lacks.
func (r *Resolver) RequireAll(ctx context.Context, id Identity, permissions ...string) error {
	missing, err := r.firstMissing(ctx, id, permissions)
	if err != nil {
		return err
	}
	if missing != "" {
		return shared.Denied(shared.RequirementPermission, missing)
	}
	return nil
}
