package domain

import "time"

// Role enumerates workflow roles for users.
type Role string

const (
	RoleGeneralUser Role = "general_user"
	RoleDigitalTeam Role = "digital_team"
	RoleOpsTeam     Role = "ops_team"
	RoleApprover    Role = "approver"
	RoleAdmin       Role = "admin"
)

// RequiresApproval reports whether tickets created by this role start in
// Pending Approval instead of Open.
func (r Role) RequiresApproval() bool {
	return r == RoleDigitalTeam
}

// CanApprove reports whether the role may approve or reject pending tickets.
func (r Role) CanApprove() bool {
	return r == RoleApprover || r == RoleAdmin
}

// CanTriage reports whether the role may change ticket status, assignment
// or remarks.
func (r Role) CanTriage() bool {
	return r == RoleOpsTeam || r == RoleApprover || r == RoleAdmin
}

// UserStatus represents lifecycle states for a user account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the domain model for anyone who files or works tickets.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
