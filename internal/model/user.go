package model

import (
	"github.com/google/uuid"
)

// Role is the capability set a user acts with.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCaregiver Role = "caregiver"
	RoleClient    Role = "client"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCaregiver, RoleClient:
		return true
	}
	return false
}

// User is the read-only projection of the user directory the scheduler needs.
// Profile management lives elsewhere.
type User struct {
	Base
	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`
	Role  Role   `json:"role" db:"role"`
}

// Actor is a verified identity as produced by authentication.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
