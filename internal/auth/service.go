package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/smarterp/smarterp/internal/auth/token"
	"github.com/smarterp/smarterp/internal/rbac"
	"github.com/smarterp/smarterp/internal/shared"
)

// Signer issues signed session tokens.
type Signer interface {
	Ready() error
	Sign(claims token.Claims) (string, time.Time, error)
}

// PasswordVerifier compares a stored hash with a plaintext password.
type PasswordVerifier interface {
	Compare(hash, password string) error
	// CompareDummy spends the same effort as Compare for unknown accounts.
	CompareDummy(password string)
}

// BcryptVerifier verifies bcrypt password hashes.
type BcryptVerifier struct {
	once  sync.Once
	dummy []byte
}

// Compare returns nil when password matches hash.
func (v *BcryptVerifier) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// CompareDummy runs a comparison against a throwaway hash.
func (v *BcryptVerifier) CompareDummy(password string) {
	v.once.Do(func() {
		v.dummy, _ = bcrypt.GenerateFromPassword([]byte("smarterp-dummy-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(password))
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	signer   Signer
	verifier PasswordVerifier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, signer Signer, verifier PasswordVerifier, logger *slog.Logger) *Service {
	if verifier == nil {
		verifier = &BcryptVerifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		signer:   signer,
		verifier: verifier,
		validate: validator.New(),
		logger:   logger,
	}
}

// Login validates email/password credentials and issues a session token
// embedding the caller's roles and the union of their permissions.
func (s *Service) Login(ctx context.Context, input LoginInput) (*Session, error) {
	input.Email = strings.TrimSpace(input.Email)
	caller := emailAttr(input.Email)
	if err := s.signerReady(); err != nil {
		return nil, s.rejected(ctx, StageReceived, caller, err)
	}

	if err := s.validate.Struct(input); err != nil {
		return nil, s.rejected(ctx, StageReceived, caller, shared.Validationf("email and password are required"))
	}

	user, err := s.repo.FindByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, s.rejected(ctx, StageValidated, caller, err)
		}
		s.verifier.CompareDummy(input.Password)
		return nil, s.rejected(ctx, StageValidated, caller, shared.ErrInvalidCredentials)
	}
	caller = slog.Int64("user_id", user.ID)
	if err := s.verifier.Compare(user.PasswordHash, input.Password); err != nil {
		return nil, s.rejected(ctx, StageValidated, caller, shared.ErrInvalidCredentials)
	}

	if !user.IsActive {
		return nil, s.rejected(ctx, StageCredentialChecked, caller, shared.ErrAccountDisabled)
	}

	session, stage, err := s.issue(ctx, user)
	if err != nil {
		return nil, s.rejected(ctx, stage, caller, err)
	}
	s.logger.Info("login succeeded", slog.Int64("user_id", user.ID), slog.Int("roles", len(session.Identity.Roles)))
	return session, nil
}

// Refresh re-resolves roles and permissions for userID and issues a new token.
func (s *Service) Refresh(ctx context.Context, userID int64) (*Session, error) {
	if err := s.signerReady(); err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrAccountDisabled
	}
	session, _, err := s.issue(ctx, user)
	return session, err
}

// issue resolves roles and permissions for an active user and signs a token.
// On failure it returns the last stage passed.
func (s *Service) issue(ctx context.Context, user *User) (*Session, Stage, error) {
	roles, err := s.repo.ListUserRoles(ctx, user.ID)
	if err != nil {
		return nil, StageAccountStatusChecked, fmt.Errorf("auth: resolve roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	ids := make([]int64, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
		ids = append(ids, role.ID)
	}

	perms, err := s.repo.ListRolePermissionNames(ctx, ids)
	if err != nil {
		return nil, StageRoleResolved, fmt.Errorf("auth: resolve permissions: %w", err)
	}

	identity := rbac.NewIdentity(user.ID, user.Email, names, ids, perms)
	raw, expiresAt, err := s.signer.Sign(identity.Claims())
	if err != nil {
		return nil, StagePermissionResolved, err
	}
	return &Session{Token: raw, ExpiresAt: expiresAt, Identity: identity}, StageTokenIssued, nil
}

func (s *Service) signerReady() error {
	if s.signer == nil {
		return fmt.Errorf("%w: token signer not configured", shared.ErrServerMisconfigured)
	}
	return s.signer.Ready()
}

// rejected logs a failed login against caller, which is the user id once the
// account is known and an email fingerprint before that.
func (s *Service) rejected(ctx context.Context, stage Stage, caller slog.Attr, err error) error {
	level := slog.LevelInfo
	if !isClientError(err) {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "login rejected",
		slog.String("stage", string(stage)),
		caller,
		slog.Any("error", err),
	)
	return reject(stage, err)
}

// emailAttr identifies a submitted email by a truncated SHA-256 of its
// lower-cased form so that repeated attempts correlate without storing it.
func emailAttr(email string) slog.Attr {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return slog.String("email_sha256", hex.EncodeToString(sum[:8]))
}

func isClientError(err error) bool {
	return errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrInvalidCredentials) ||
		errors.Is(err, shared.ErrAccountDisabled)
}
