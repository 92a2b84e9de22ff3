package rbac

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smarterp/smarterp/internal/shared"
)

const lookupTimeout = 5 * time.Second

// PermissionStore answers role→permission questions from persisted state.
type PermissionStore interface {
	RoleHasPermission(ctx context.Context, roleID int64, permission string) (bool, error)
}

// Resolver decides whether an identity holds permissions. Identities that
// carry embedded permissions are answered from memory; legacy identities
// without them fall back to the store, one role at a time.
type Resolver struct {
	store PermissionStore
	group singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(store PermissionStore) *Resolver {
	return &Resolver{store: store}
}

// HasPermission reports whether id holds permission.
func (r *Resolver) HasPermission(ctx context.Context, id Identity, permission string) (bool, error) {
	perm := Canonical(permission)
	if perm == "" {
		return false, shared.Validationf("permission name required")
	}
	if len(id.Permissions) > 0 {
		_, ok := id.Permissions[perm]
		return ok, nil
	}
	return r.fromRoles(ctx, id, perm)
}

// HasAny reports whether id holds at least one of permissions. An empty
// requirement is satisfied.
func (r *Resolver) HasAny(ctx context.Context, id Identity, permissions ...string) (bool, error) {
	required := normalizePermissions(permissions)
	if len(required) == 0 {
		return true, nil
	}
	if len(id.Permissions) > 0 {
		for _, p := range required {
			if _, ok := id.Permissions[p]; ok {
				return true, nil
			}
		}
		return false, nil
	}
	for _, p := range required {
		ok, err := r.fromRoles(ctx, id, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether id holds every one of permissions.
func (r *Resolver) HasAll(ctx context.Context, id Identity, permissions ...string) (bool, error) {
	missing, err := r.firstMissing(ctx, id, permissions)
	if err != nil {
		return false, err
	}
	return missing == "", nil
}

func (r *Resolver) firstMissing(ctx context.Context, id Identity, permissions []string) (string, error) {
	for _, p := range normalizePermissions(permissions) {
		var ok bool
		if len(id.Permissions) > 0 {
			_, ok = id.Permissions[p]
		} else {
			var err error
			if ok, err = r.fromRoles(ctx, id, p); err != nil {
				return "", err
			}
		}
		if !ok {
			return p, nil
		}
	}
	return "", nil
}

func (r *Resolver) fromRoles(ctx context.Context, id Identity, perm string) (bool, error) {
	for _, roleID := range id.RoleIDs.Sorted() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, err := r.lookup(ctx, roleID, perm)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// lookup collapses concurrent identical queries. The shared query runs
// detached from any single caller so one cancelled request cannot fail the
// others; each caller still returns as soon as its own context is done.
func (r *Resolver) lookup(ctx context.Context, roleID int64, perm string) (bool, error) {
	if r == nil || r.store == nil {
		return false, fmt.Errorf("%w: permission store not configured", shared.ErrPermissionCheckFailed)
	}
	key := strconv.FormatInt(roleID, 10) + ":" + perm
	resultChan := r.group.DoChan(key, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.store.RoleHasPermission(qctx, roleID, perm)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return false, fmt.Errorf("%w: role %d: %w", shared.ErrPermissionCheckFailed, roleID, res.Err)
		}
		ok, _ := res.Val.(bool)
		return ok, nil
	}
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = Canonical(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
