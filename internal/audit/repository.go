package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const timelineSQL = `SELECT id, COALESCE(actor_id, 0), action, entity, entity_id, meta, occurred_at
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC`

// Window returns at most limit entries matching filters, skipping offset.
func (r *Repository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	args := filterArgs(filters)
	args = append(args, offset, limit)
	rows, err := r.pool.Query(ctx, timelineSQL+` OFFSET $6 LIMIT $7`, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline window: %w", err)
	}
	return scanEntries(rows)
}

// All returns at most limit entries matching filters.
func (r *Repository) All(ctx context.Context, filters TimelineFilters, limit int) ([]Entry, error) {
	args := append(filterArgs(filters), limit)
	rows, err := r.pool.Query(ctx, timelineSQL+` LIMIT $6`, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline export: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Meta, &e.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func filterArgs(f TimelineFilters) []any {
	var to pgtype.Timestamptz
	if !f.To.IsZero() {
		to = pgtype.Timestamptz{Time: f.To.AddDate(0, 0, 1), Valid: true}
	}
	var actor pgtype.Int8
	if f.ActorID > 0 {
		actor = pgtype.Int8{Int64: f.ActorID, Valid: true}
	}
	return []any{toPgTime(f.From), to, actor, optionalText(f.Entity), optionalText(f.Action)}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
