package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	EnsureRole(ctx context.Context, name, description string) (Role, bool, error)
	DeleteRole(ctx context.Context, id int64) error
}

// Service handles role business logic.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// EnsureRole returns the role with the canonical form of name, creating it
// if absent. created reports whether the role is new.
func (s *Service) EnsureRole(ctx context.Context, actorID int64, name, description string) (Role, bool, error) {
	canonical := rbac.Canonical(name)
	if canonical == "" {
		return Role{}, false, shared.Validationf("role name is required")
	}
	role, created, err := s.repo.EnsureRole(ctx, canonical, strings.TrimSpace(description))
	if err != nil {
		return Role{}, false, err
	}
	if created {
		s.record(ctx, actorID, shared.AuditRoleCreated, role)
	}
	return role, created, nil
}

// DeleteRole removes an unreferenced role. The admin role is never deleted.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return shared.Validationf("role id must be a positive integer")
	}
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if rbac.Canonical(role.Name) == shared.RoleAdmin {
		return fmt.Errorf("%w: the %s role cannot be deleted", shared.ErrConflict, shared.RoleAdmin)
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleDeleted, role)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, role Role) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(role.ID, 10),
		Meta:     map[string]any{"name": role.Name},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
