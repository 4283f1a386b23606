package models

import "slices"

// Role names recognised by the backend.
const (
	RoleAdmin    Role = "admin"
	RoleHR       Role = "hr"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// Roles lists every role in the order offered at registration.
var Roles = []Role{RoleAdmin, RoleHR, RoleManager, RoleEmployee}

// Role is the authorization role attached to a user account.
type Role string

// Valid returns true if r is one of the known roles.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// CanEditEmployees returns true if the role may create and edit employees.
func (r Role) CanEditEmployees() bool {
	return r == RoleAdmin || r == RoleHR || r == RoleManager
}

// CanDeleteEmployees returns true if the role may delete employees.
func (r Role) CanDeleteEmployees() bool {
	return r == RoleAdmin || r == RoleHR
}

// CanSeeSensitive returns true if the role may view and edit salary and SSN.
func (r Role) CanSeeSensitive() bool {
	return r == RoleAdmin || r == RoleHR
}

// User is the authenticated identity returned by login and refresh.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// CanEditEmployees is nil safe.
func (u *User) CanEditEmployees() bool {
	return u != nil && u.Role.CanEditEmployees()
}

// CanDeleteEmployees is nil safe.
func (u *User) CanDeleteEmployees() bool {
	return u != nil && u.Role.CanDeleteEmployees()
}

// CanSeeSensitive is nil safe.
func (u *User) CanSeeSensitive() bool {
	return u != nil && u.Role.CanSeeSensitive()
}
