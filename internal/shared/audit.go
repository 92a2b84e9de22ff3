package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions recorded for access-control mutations.
const (
	AuditPermissionCreated  = "permission.created"
	AuditPermissionUpdated  = "permission.updated"
	AuditPermissionDeleted  = "permission.deleted"
	AuditPermissionAssigned = "role_permission.assigned"
	AuditPermissionRemoved  = "role_permission.removed"
	AuditPermissionsReplace = "role_permission.replaced"
	AuditRoleAssigned       = "user_role.assigned"
	AuditRoleRemoved        = "user_role.removed"
	AuditRoleCreated        = "role.created"
	AuditRoleDeleted        = "role.deleted"
	AuditUserStatusChanged  = "user.status_changed"
	AuditUserCreated        = "user.created"
	AuditUserUpdated        = "user.updated"
	AuditUserDeleted        = "user.deleted"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Validate checks the mandatory fields of a log entry.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// Execer is the subset of pgx used to write audit rows.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At.UTC()
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// AuditRecorder accepts audit entries for persistence.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}
