package models

import "time"

// User roles recognised by the platform.
const (
	RoleAdmin     = "admin"
	RoleVendor    = "vendor"
	RoleCandidate = "candidate"
)

// User represents an account on the platform.
type User struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"size:255;not null" json:"name"`
	Email            string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"size:255;not null" json:"-"`
	Role             string     `gorm:"size:32;not null;default:candidate;index" json:"role"`
	ResetTokenHash   string     `gorm:"size:128;index" json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsValidRole reports whether the supplied role is one of the known roles.
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleVendor, RoleCandidate:
		return true
	default:
		return false
	}
}
