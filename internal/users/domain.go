package users

import "time"

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssignRoleInput names the role to grant; the role is created if absent.
type AssignRoleInput struct {
	Role string `json:"role" validate:"required,max=50"`
}

// StatusInput toggles whether an account may log in.
type StatusInput struct {
	Active *bool `json:"active" validate:"required"`
}

// CreateInput registers an account. Role, when set, is granted through the
// same get-or-create used by role assignment.
type CreateInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"max=50"`
}

// UpdateInput edits profile fields. Absent fields keep their value.
type UpdateInput struct {
	Name     *string `json:"name" validate:"omitempty,max=100"`
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// Changes are the columns written by an update; nil leaves a column as is.
type Changes struct {
	Name         *string
	Email        *string
	PasswordHash *string
}
