package permissions

import "time"

// Permission is a named capability granted to roles.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionWithRoles is a permission together with the names of the roles holding it.
type PermissionWithRoles struct {
	Permission
	Roles []string `json:"roles"`
}

// RolePermission is a permission as mapped to a role.
type RolePermission struct {
	Permission
	RoleID     int64     `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Input carries the editable fields of a permission.
type Input struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
}

// ReplaceInput is the body of a bulk replace of a role's permissions.
type ReplaceInput struct {
	PermissionIDs []int64 `json:"permission_ids"`
}
