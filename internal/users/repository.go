package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarterp/smarterp/internal/platform/db"
	"github.com/smarterp/smarterp/internal/roles"
	"github.com/smarterp/smarterp/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	UserExists(ctx context.Context, id int64) (bool, error)
	EnsureRole(ctx context.Context, name string) (roles.Role, error)
	AssignRole(ctx context.Context, userID, roleID int64) (bool, error)
	RemoveRole(ctx context.Context, userID, roleID int64) (bool, error)
	SetActive(ctx context.Context, userID int64, active bool) (bool, error)
	CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error)
	UpdateUser(ctx context.Context, userID int64, changes Changes) (bool, error)
	DeleteUser(ctx context.Context, userID int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectUsers = `SELECT u.id, u.email, COALESCE(u.name, ''), u.is_active, u.created_at, u.updated_at,
	COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.Roles)
	return u, err
}

// ListUsers returns all users with their role names.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, selectUsers+` GROUP BY u.id ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser returns a single user with role names.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, selectUsers+` WHERE u.id = $1 GROUP BY u.id`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
		}
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	return u, nil
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) UserExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *txRepo) EnsureRole(ctx context.Context, name string) (roles.Role, error) {
	return roles.Ensure(ctx, r.tx, name, "")
}

func (r *txRepo) AssignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: user %d or role %d", shared.ErrNotFound, userID, roleID)
		}
		return false, fmt.Errorf("users: assign role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepo) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("users: remove role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepo) SetActive(ctx context.Context, userID int64, active bool) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, userID, active)
	if err != nil {
		return false, fmt.Errorf("users: set active: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepo) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO users (name, email, password_hash) VALUES (NULLIF($1, ''), $2, $3)
RETURNING id`, name, email, passwordHash).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: email %q is already registered", shared.ErrConflict, email)
		}
		return 0, fmt.Errorf("users: create: %w", err)
	}
	return id, nil
}

func (r *txRepo) UpdateUser(ctx context.Context, userID int64, changes Changes) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE users SET
	name = COALESCE($2, name),
	email = COALESCE($3, email),
	password_hash = COALESCE($4, password_hash),
	updated_at = NOW()
WHERE id = $1`, userID, changes.Name, changes.Email, changes.PasswordHash)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, fmt.Errorf("%w: email is already registered", shared.ErrConflict)
		}
		return false, fmt.Errorf("users: update: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteUser removes an account whose actions are not referenced by the
// audit trail. Role assignments cascade.
func (r *txRepo) DeleteUser(ctx context.Context, userID int64) error {
	return db.GuardedDelete(ctx, r.tx, "user", `DELETE FROM users WHERE id = $1`, userID,
		db.DeleteGuard{Dependent: "audit entries", Query: `SELECT COUNT(*) FROM audit_logs WHERE actor_id = $1`},
	)
}
