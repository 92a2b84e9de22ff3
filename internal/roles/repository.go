package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarterp/smarterp/internal/platform/db"
	"github.com/smarterp/smarterp/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(description, ''), created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole returns the role with id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(description, ''), created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %d", shared.ErrNotFound, id)
		}
		return Role{}, fmt.Errorf("roles: get: %w", err)
	}
	return role, nil
}

// EnsureRole returns the role named name, creating it if absent. created
// reports whether this call inserted it.
func (r *Repository) EnsureRole(ctx context.Context, name, description string) (Role, bool, error) {
	return ensure(ctx, r.pool, name, description)
}

// DeleteRole removes a role that no user or permission mapping references.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return db.GuardedDelete(ctx, tx, "role", `DELETE FROM roles WHERE id = $1`, id,
			db.DeleteGuard{Dependent: "users", Query: `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`},
			db.DeleteGuard{Dependent: "permission mappings", Query: `SELECT COUNT(*) FROM role_permissions WHERE role_id = $1`},
		)
	})
}

// Ensure is the get-or-create of a role by canonical name. It is safe under
// concurrent callers and usable inside a transaction.
func Ensure(ctx context.Context, q db.Querier, name, description string) (Role, error) {
	role, _, err := ensure(ctx, q, name, description)
	return role, err
}

func ensure(ctx context.Context, q db.Querier, name, description string) (Role, bool, error) {
	var (
		role    Role
		created bool
	)
	err := q.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, NULLIF($2, ''))
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, COALESCE(description, ''), created_at, updated_at, (xmax = 0)`, name, description).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt, &created)
	if err != nil {
		return Role{}, false, fmt.Errorf("roles: ensure %q: %w", name, err)
	}
	return role, created, nil
}
