package users

import (
	"io"
	"strings"
	"time"
)

// User is an account as stored. PasswordHash never leaves the domain layer;
// handlers render their own view.
type User struct {
	ID           int64
	Username     string
	Email        string
	Phone        *string
	PasswordHash string
	ProfileImage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RegisterInput struct {
	Username string `validate:"required,max=50"`
	Email    string `validate:"required,email,max=254"`
	Phone    string `validate:"omitempty,max=32"`
	Password string `validate:"required,min=8,max=72"`
}

type LoginResult struct {
	Token string
	User  *User
}

// ImageUpload is one profile image as received from the client.
type ImageUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

type PasswordReset struct {
	ID        int64
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
}

// DeletedRows reports what account deletion removed, for the audit trail.
type DeletedRows struct {
	History         int64
	TalkLikes       int64
	ToolLikes       int64
	Tickets         int64
	DeviceEndpoints int64
	PasswordResets  int64
}

// ValidationError lists per-field problems with an input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
