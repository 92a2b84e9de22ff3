package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarterp/smarterp/internal/platform/db"
	"github.com/smarterp/smarterp/internal/shared"
)

// Reader exposes lookups usable inside and outside a transaction.
type Reader interface {
	List(ctx context.Context) ([]Permission, error)
	ListWithRoles(ctx context.Context) ([]PermissionWithRoles, error)
	ListByRole(ctx context.Context, roleID int64) ([]RolePermission, error)
	RoleExists(ctx context.Context, roleID int64) (bool, error)
	PermissionExists(ctx context.Context, id int64) (bool, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Reader
	Create(ctx context.Context, name, description string) (Permission, error)
	Update(ctx context.Context, id int64, name, description string) (Permission, error)
	Delete(ctx context.Context, id int64) error
	Assign(ctx context.Context, roleID, permissionID int64) (bool, error)
	Remove(ctx context.Context, roleID, permissionID int64) (bool, error)
	ClearRole(ctx context.Context, roleID int64) error
}

// Repository persists permissions and role mappings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{q: pool}}
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &queries{q: tx})
	})
}

type queries struct {
	q db.DBTX
}

const selectPermission = `SELECT id, name, COALESCE(description, ''), created_at, updated_at FROM permissions`

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *queries) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.q.Query(ctx, selectPermission+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("permissions: list: %w", err)
	}
	return scanPermissions(rows)
}

func (r *queries) ListWithRoles(ctx context.Context) ([]PermissionWithRoles, error) {
	rows, err := r.q.Query(ctx, `SELECT p.id, p.name, COALESCE(p.description, ''), p.created_at, p.updated_at,
	COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}')
FROM permissions p
LEFT JOIN role_permissions rp ON rp.permission_id = p.id
LEFT JOIN roles r ON r.id = rp.role_id
GROUP BY p.id
ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("permissions: list with roles: %w", err)
	}
	defer rows.Close()
	var out []PermissionWithRoles
	for rows.Next() {
		var p PermissionWithRoles
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt, &p.Roles); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *queries) ListByRole(ctx context.Context, roleID int64) ([]RolePermission, error) {
	rows, err := r.q.Query(ctx, `SELECT p.id, p.name, COALESCE(p.description, ''), p.created_at, p.updated_at,
	rp.role_id, rp.assigned_at
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("permissions: list by role: %w", err)
	}
	defer rows.Close()
	var out []RolePermission
	for rows.Next() {
		var p RolePermission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt, &p.RoleID, &p.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *queries) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&ok)
	return ok, err
}

func (r *queries) PermissionExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *queries) Create(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.q.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, NULLIF($2, ''))
RETURNING id, name, COALESCE(description, ''), created_at, updated_at`, name, description).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Permission{}, fmt.Errorf("%w: permission %q already exists", shared.ErrConflict, name)
		}
		return Permission{}, fmt.Errorf("permissions: create: %w", err)
	}
	return p, nil
}

func (r *queries) Update(ctx context.Context, id int64, name, description string) (Permission, error) {
	var p Permission
	err := r.q.QueryRow(ctx, `UPDATE permissions SET name = $2, description = NULLIF($3, ''), updated_at = NOW()
WHERE id = $1
RETURNING id, name, COALESCE(description, ''), created_at, updated_at`, id, name, description).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return Permission{}, fmt.Errorf("%w: permission %d", shared.ErrNotFound, id)
		case db.IsUniqueViolation(err):
			return Permission{}, fmt.Errorf("%w: permission %q already exists", shared.ErrConflict, name)
		}
		return Permission{}, fmt.Errorf("permissions: update: %w", err)
	}
	return p, nil
}

func (r *queries) Delete(ctx context.Context, id int64) error {
	return db.GuardedDelete(ctx, r.q, "permission", `DELETE FROM permissions WHERE id = $1`, id,
		db.DeleteGuard{Dependent: "role mappings", Query: `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`},
	)
}

func (r *queries) Assign(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: role %d or permission %d", shared.ErrNotFound, roleID, permissionID)
		}
		return false, fmt.Errorf("permissions: assign: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) Remove(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, fmt.Errorf("permissions: remove: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *queries) ClearRole(ctx context.Context, roleID int64) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("permissions: clear role: %w", err)
	}
	return nil
}

var _ TxRepository = (*queries)(nil)
