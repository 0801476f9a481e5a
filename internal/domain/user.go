package domain

import "time"

// Role is the capability attached to an authenticated principal.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole returns the role for s, or false when s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleEditor, RoleViewer:
		return Role(s), true
	}
	return "", false
}

// User is an account that owns documents.
type User struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	Email        string    `gorm:"type:text;not null;uniqueIndex:idx_user_email" json:"email"`
	PasswordHash string    `gorm:"column:password;type:text;not null" json:"-"`
	FullName     string    `gorm:"column:full_name;type:text;not null" json:"fullName"`
	Role         Role      `gorm:"type:text;not null;default:viewer" json:"role"`
	IsActive     bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
