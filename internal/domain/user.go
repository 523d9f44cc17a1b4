package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role gates dashboard operations. Admins may additionally trigger the
// emergency write path on mutations.
type Role string

const (
	RoleMember Role = "user"
	RoleAdmin  Role = "admin"
)

// User represents a dashboard account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuthSession is the authenticated caller identity. It is created only by the
// session store and handed to other components by explicit parameter.
type AuthSession struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Initials    string    `json:"initials"`
	Role        Role      `json:"role"`
	IssuedAt    time.Time `json:"issued_at"`
}

// IsAdmin reports whether the session belongs to an admin account.
func (s *AuthSession) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// Initials derives up to two uppercase initials from a display name.
func Initials(displayName string) string {
	var b strings.Builder
	for i, f := range strings.Fields(displayName) {
		if i == 2 {
			break
		}
		first := []rune(f)[0]
		b.WriteString(strings.ToUpper(string(first)))
	}
	return b.String()
}

// UserCreate represents registration data.
type UserCreate struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"required,max=128"`
}

// Credentials represents login input.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserRepository defines the interface for user storage.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	CountUsers(ctx context.Context) (int, error)
}
