package models

import "time"

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// User mirrors the identity provider's record. Users are not persisted
// locally; the identity provider is the source of truth.
type User struct {
	ID            string    `json:"id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Role          UserRole  `json:"role"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	Groups        []string  `json:"groups,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (u *User) InGroup(groupID string) bool {
	for _, g := range u.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}
