package model

import "time"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	default:
		return false
	}
}

// User is the identity record. The password digest is never part of it; stores
// hand it out separately through the *WithPassword lookups.
type User struct {
	ID        string     `json:"id"`
	Email     *string    `json:"email"`
	Phone     *string    `json:"phone"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// HasIdentifier reports whether at least one of email or phone is set.
func (u User) HasIdentifier() bool {
	return (u.Email != nil && *u.Email != "") || (u.Phone != nil && *u.Phone != "")
}

// Touch stamps UpdatedAt for a mutation happening at now.
func (u *User) Touch(now time.Time) {
	ts := now.UTC()
	u.UpdatedAt = &ts
}

func StringPtr(value string) *string {
	return &value
}
