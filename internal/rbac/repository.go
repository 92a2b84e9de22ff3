package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository answers role→permission lookups from PostgreSQL.
type Repository struct {
	db RowQuerier
}

// NewRepository constructs a Repository.
func NewRepository(db RowQuerier) *Repository {
	return &Repository{db: db}
}

const roleHasPermissionSQL = `SELECT EXISTS (
	SELECT 1
	FROM role_permissions rp
	JOIN permissions p ON p.id = rp.permission_id
	WHERE rp.role_id = $1 AND lower(p.name) = $2
)`

// RoleHasPermission reports whether roleID is mapped to permission. The
// permission must already be canonical.
func (r *Repository) RoleHasPermission(ctx context.Context, roleID int64, permission string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, roleHasPermissionSQL, roleID, permission).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

var _ PermissionStore = (*Repository)(nil)
