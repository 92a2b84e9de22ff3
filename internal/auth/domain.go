package auth

import (
	"fmt"
	"time"

	"github.com/smarterp/smarterp/internal/rbac"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is a role assigned to a user.
type Role struct {
	ID   int64
	Name string
}

// Stage names a step of the login flow.
type Stage string

// Login stages in the order they are passed.
const (
	StageReceived             Stage = "received"
	StageValidated            Stage = "validated"
	StageCredentialChecked    Stage = "credential_checked"
	StageAccountStatusChecked Stage = "account_status_checked"
	StageRoleResolved         Stage = "role_resolved"
	StagePermissionResolved   Stage = "permission_resolved"
	StageTokenIssued          Stage = "token_issued"
)

// RejectedError reports the last stage a login attempt passed before it was
// rejected.
type RejectedError struct {
	Stage Stage
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("login rejected at %s: %v", e.Stage, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func reject(stage Stage, err error) error {
	return &RejectedError{Stage: stage, Err: err}
}

// LoginInput carries the credentials of a login attempt.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is the outcome of a successful login or refresh.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  rbac.Identity
}

// SessionResponse is the JSON body returned for a Session.
type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  rbac.View `json:"identity"`
}

// Response renders the session for clients.
func (s *Session) Response() SessionResponse {
	return SessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, Identity: s.Identity.View()}
}
