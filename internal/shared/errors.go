package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input such as a non-integer id.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthenticated indicates a missing or malformed Authorization header.
	ErrUnauthenticated = errors.New("not authorized")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled indicates the account exists but is not active.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrInvalidToken indicates a token with a bad signature or shape.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates a token past its expiry instant.
	ErrTokenExpired = errors.New("token expired")
	// ErrAccessDenied indicates an authenticated caller lacking a role or permission.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate entry or a delete blocked by dependents.
	ErrConflict = errors.New("conflict")
	// ErrServerMisconfigured indicates missing server-side secrets or settings.
	ErrServerMisconfigured = errors.New("server misconfigured")
	// ErrPermissionCheckFailed indicates the permission store could not be queried.
	ErrPermissionCheckFailed = errors.New("permission check failed")
)

// Kinds of requirement an AccessDeniedError can name.
const (
	RequirementRole       = "role"
	RequirementPermission = "permission"
	RequirementOwner      = "owner"
)

// AccessDeniedError reports the specific role or permission a caller lacked.
type AccessDeniedError struct {
	Kind string
	Name string
}

func (e *AccessDeniedError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("access denied: %s required", e.Kind)
	}
	return fmt.Sprintf("access denied: missing %s %q", e.Kind, e.Name)
}

// Unwrap lets errors.Is match ErrAccessDenied.
func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// Denied builds an AccessDeniedError.
func Denied(kind, name string) error {
	return &AccessDeniedError{Kind: kind, Name: name}
}

// Validationf wraps ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UserSafeMessage returns a short message that never leaks internals.
func UserSafeMessage(err error) string {
	var denied *AccessDeniedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &denied):
		return denied.Error()
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err.Error()
	case errors.Is(err, ErrUnauthenticated):
		return "not authorized"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		return "invalid token"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid email or password"
	case errors.Is(err, ErrAccountDisabled):
		return "account is disabled, contact an administrator"
	default:
		return "internal server error"
	}
}
