package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/shared"
)

// RepositoryPort defines data access methods for permissions.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service handles permission catalogue and role mapping rules.
type Service struct {
	repo     RepositoryPort
	audit    shared.AuditRecorder
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, validate: validator.New(), logger: logger}
}

// List returns all permissions.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// ListWithRoles returns all permissions with the roles holding each.
func (s *Service) ListWithRoles(ctx context.Context) ([]PermissionWithRoles, error) {
	return s.repo.ListWithRoles(ctx)
}

// ListByRole returns the permissions mapped to roleID.
func (s *Service) ListByRole(ctx context.Context, roleID int64) ([]RolePermission, error) {
	if err := requirePositive("role id", roleID); err != nil {
		return nil, err
	}
	ok, err := s.repo.RoleExists(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: role %d", shared.ErrNotFound, roleID)
	}
	return s.repo.ListByRole(ctx, roleID)
}

// Create adds a permission to the catalogue.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (Permission, error) {
	in, err := s.clean(in)
	if err != nil {
		return Permission{}, err
	}
	var created Permission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.Create(ctx, in.Name, in.Description)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, shared.AuditPermissionCreated, "permission", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// Update renames or re-describes a permission.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (Permission, error) {
	if err := requirePositive("permission id", id); err != nil {
		return Permission{}, err
	}
	in, err := s.clean(in)
	if err != nil {
		return Permission{}, err
	}
	var updated Permission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err = tx.Update(ctx, id, in.Name, in.Description)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, shared.AuditPermissionUpdated, "permission", id, map[string]any{"name": updated.Name})
	return updated, nil
}

// Delete removes a permission that no role references.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if err := requirePositive("permission id", id); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditPermissionDeleted, "permission", id, nil)
	return nil
}

// Assign maps permissionID to roleID. An existing mapping is reported as a
// conflict and left unchanged.
func (s *Service) Assign(ctx context.Context, actorID, roleID, permissionID int64) error {
	if err := requirePositive("role id", roleID); err != nil {
		return err
	}
	if err := requirePositive("permission id", permissionID); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureExists(ctx, tx, roleID, permissionID); err != nil {
			return err
		}
		inserted, err := tx.Assign(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: permission %d already assigned to role %d", shared.ErrConflict, permissionID, roleID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditPermissionAssigned, "role", roleID, map[string]any{"permission_id": permissionID})
	return nil
}

// Remove unmaps permissionID from roleID.
func (s *Service) Remove(ctx context.Context, actorID, roleID, permissionID int64) error {
	if err := requirePositive("role id", roleID); err != nil {
		return err
	}
	if err := requirePositive("permission id", permissionID); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.Remove(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: permission %d is not assigned to role %d", shared.ErrNotFound, permissionID, roleID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditPermissionRemoved, "role", roleID, map[string]any{"permission_id": permissionID})
	return nil
}

// Replace sets the permissions of roleID to exactly permissionIDs in one
// transaction. On any failure the previous mapping is left intact.
func (s *Service) Replace(ctx context.Context, actorID, roleID int64, permissionIDs []int64) ([]RolePermission, error) {
	if err := requirePositive("role id", roleID); err != nil {
		return nil, err
	}
	ids, err := uniqueIDs(permissionIDs)
	if err != nil {
		return nil, err
	}
	var result []RolePermission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.RoleExists(ctx, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: role %d", shared.ErrNotFound, roleID)
		}
		if err := tx.ClearRole(ctx, roleID); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.Assign(ctx, roleID, id); err != nil {
				return err
			}
		}
		result, err = tx.ListByRole(ctx, roleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, shared.AuditPermissionsReplace, "role", roleID, map[string]any{"permission_ids": ids})
	return result, nil
}

func (s *Service) clean(in Input) (Input, error) {
	in.Name = rbac.Canonical(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Input{}, shared.Validationf("permission name is required (max 100 characters)")
	}
	return in, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func ensureExists(ctx context.Context, tx Reader, roleID, permissionID int64) error {
	ok, err := tx.RoleExists(ctx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %d", shared.ErrNotFound, roleID)
	}
	ok, err = tx.PermissionExists(ctx, permissionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: permission %d", shared.ErrNotFound, permissionID)
	}
	return nil
}

func requirePositive(field string, id int64) error {
	if id <= 0 {
		return shared.Validationf("%s must be a positive integer", field)
	}
	return nil
}

func uniqueIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if err := requirePositive("permission id", id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
