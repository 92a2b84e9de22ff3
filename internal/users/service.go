package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/roles"
	"github.com/smarterp/smarterp/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	audit    shared.AuditRecorder
	validate *validator.Validate
	logger   *slog.Logger
	cost     int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, validate: validator.New(), logger: logger, cost: bcrypt.DefaultCost}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	if id <= 0 {
		return User{}, shared.Validationf("user id must be a positive integer")
	}
	return s.repo.GetUser(ctx, id)
}

// AssignRole grants the named role to userID, creating the role if needed.
// An existing assignment is reported as a conflict.
func (s *Service) AssignRole(ctx context.Context, actorID, userID int64, roleName string) (roles.Role, error) {
	if userID <= 0 {
		return roles.Role{}, shared.Validationf("user id must be a positive integer")
	}
	name := rbac.Canonical(roleName)
	if name == "" {
		return roles.Role{}, shared.Validationf("role name is required")
	}
	var role roles.Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		if role, err = tx.EnsureRole(ctx, name); err != nil {
			return err
		}
		inserted, err := tx.AssignRole(ctx, userID, role.ID)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: user %d already has role %q", shared.ErrConflict, userID, name)
		}
		return nil
	})
	if err != nil {
		return roles.Role{}, err
	}
	s.record(ctx, actorID, shared.AuditRoleAssigned, userID, map[string]any{"role_id": role.ID, "role": role.Name})
	return role, nil
}

// RemoveRole revokes roleID from userID.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	if userID <= 0 || roleID <= 0 {
		return shared.Validationf("user and role ids must be positive integers")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.RemoveRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: user %d does not have role %d", shared.ErrNotFound, userID, roleID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleRemoved, userID, map[string]any{"role_id": roleID})
	return nil
}

// SetActive enables or disables login for userID. Disabled accounts keep
// their data and role assignments. Callers cannot disable themselves.
func (s *Service) SetActive(ctx context.Context, actorID, userID int64, active bool) error {
	if userID <= 0 {
		return shared.Validationf("user id must be a positive integer")
	}
	if !active && actorID == userID {
		return fmt.Errorf("%w: cannot disable your own account", shared.ErrConflict)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.SetActive(ctx, userID, active)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditUserStatusChanged, userID, map[string]any{"active": active})
	return nil
}

// CreateUser registers an active account with a bcrypt password hash and
// optionally grants it a role.
func (s *Service) CreateUser(ctx context.Context, actorID int64, in CreateInput) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = canonicalEmail(in.Email)
	in.Role = rbac.Canonical(in.Role)
	if err := s.validate.Struct(in); err != nil {
		return User{}, shared.Validationf("name, a valid email and a password of 8 to 72 characters are required")
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return User{}, err
	}
	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if id, err = tx.CreateUser(ctx, in.Name, in.Email, hash); err != nil {
			return err
		}
		if in.Role == "" {
			return nil
		}
		role, err := tx.EnsureRole(ctx, in.Role)
		if err != nil {
			return err
		}
		_, err = tx.AssignRole(ctx, id, role.ID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, shared.AuditUserCreated, id, map[string]any{"role": in.Role})
	return s.repo.GetUser(ctx, id)
}

// UpdateUser edits the name, email or password of userID.
func (s *Service) UpdateUser(ctx context.Context, actorID, userID int64, in UpdateInput) (User, error) {
	if userID <= 0 {
		return User{}, shared.Validationf("user id must be a positive integer")
	}
	var (
		changes Changes
		fields  []string
	)
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return User{}, shared.Validationf("name cannot be empty")
		}
		in.Name, changes.Name = &name, &name
		fields = append(fields, "name")
	}
	if in.Email != nil {
		email := canonicalEmail(*in.Email)
		if email == "" {
			return User{}, shared.Validationf("email cannot be empty")
		}
		in.Email, changes.Email = &email, &email
		fields = append(fields, "email")
	}
	if in.Password != nil {
		if *in.Password == "" {
			return User{}, shared.Validationf("password cannot be empty")
		}
		fields = append(fields, "password")
	}
	if len(fields) == 0 {
		return User{}, shared.Validationf("nothing to update")
	}
	if err := s.validate.Struct(in); err != nil {
		return User{}, shared.Validationf("email must be valid and password 8 to 72 characters")
	}
	if in.Password != nil {
		hash, err := s.hash(*in.Password)
		if err != nil {
			return User{}, err
		}
		changes.PasswordHash = &hash
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.UpdateUser(ctx, userID, changes)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, shared.AuditUserUpdated, userID, map[string]any{"fields": fields})
	return s.repo.GetUser(ctx, userID)
}

// DeleteUser removes userID. Accounts referenced by the audit trail are
// refused with a conflict and should be deactivated instead.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID int64) error {
	if userID <= 0 {
		return shared.Validationf("user id must be a positive integer")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteUser(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditUserDeleted, userID, nil)
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("users: hash password: %w", err)
	}
	return string(hash), nil
}

func canonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{ActorID: actorID, Action: action, Entity: "user", EntityID: strconv.FormatInt(userID, 10), Meta: meta}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func requireUser(ctx context.Context, tx TxRepository, userID int64) error {
	ok, err := tx.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	return nil
}
