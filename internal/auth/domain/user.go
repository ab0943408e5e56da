package domain

import (
	"strings"
	"time"
)

// Role is a closed enumeration. Checks go through the type, not raw string
// comparison, so a typo fails Valid() instead of silently matching nothing.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// UserStatus is the account lifecycle state. Users are never hard-deleted,
// only moved to inactive.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserActive, UserInactive, UserSuspended:
		return true
	}
	return false
}

type User struct {
	ID           string
	Email        string // unique, stored case-normalized
	PasswordHash string // argon2id encoded
	DisplayName  string
	Role         Role
	Status       UserStatus
	MFAEnabled   bool
	MFASecret    *string // TOTP secret (base32), present only while MFA is enabled
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanAuthenticate reports whether the account may hold a live credential.
func (u User) CanAuthenticate() bool {
	return u.Status == UserActive
}

// NormalizeEmail trims and lower-cases an email for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
