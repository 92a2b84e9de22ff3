package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smarterp/smarterp/internal/shared"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DeleteGuard names a dependent reference that blocks a delete. Query must
// select a single count for the target id passed as $1.
type DeleteGuard struct {
	Dependent string
	Query     string
}

// GuardedDelete removes a row only when no guard reports a dependent
// reference. A referenced row yields shared.ErrConflict and is left intact;
// a missing row yields shared.ErrNotFound.
func GuardedDelete(ctx context.Context, q Querier, entity, deleteSQL string, id int64, guards ...DeleteGuard) error {
	for _, g := range guards {
		var refs int64
		if err := q.QueryRow(ctx, g.Query, id).Scan(&refs); err != nil {
			return fmt.Errorf("platform/db: guard %s: %w", g.Dependent, err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: %s %d is still referenced by %d %s", shared.ErrConflict, entity, id, refs, g.Dependent)
		}
	}
	tag, err := q.Exec(ctx, deleteSQL, id)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s %d is still referenced", shared.ErrConflict, entity, id)
		}
		return fmt.Errorf("platform/db: delete %s: %w", entity, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %d", shared.ErrNotFound, entity, id)
	}
	return nil
}
