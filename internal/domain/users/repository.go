package users

import (
	"context"
	"time"
)

// Repository is the persistence contract for accounts and reset codes.
// Lookups by username and email are case-insensitive. CreateUser reports
// constraint violations as ErrUsernameTaken or ErrEmailTaken; lookups that
// match nothing return ErrUserNotFound or ErrResetNotFound.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateProfileImage(ctx context.Context, id int64, url string) error

	// DeleteUserData removes every row that references the user, leaving
	// the user row itself for DeleteUser.
	DeleteUserData(ctx context.Context, userID int64, email string) (DeletedRows, error)
	DeleteUser(ctx context.Context, id int64) error

	CreatePasswordReset(ctx context.Context, params CreateResetParams) (*PasswordReset, error)
	// LatestValidReset returns the newest unused, unexpired reset for the
	// email. With forUpdate set the row is locked until the transaction ends.
	LatestValidReset(ctx context.Context, email string, now time.Time, forUpdate bool) (*PasswordReset, error)
	MarkResetUsed(ctx context.Context, id int64) error
	DeletePasswordReset(ctx context.Context, id int64) error
	// PurgePasswordResets deletes used and expired reset rows.
	PurgePasswordResets(ctx context.Context, now time.Time) (int64, error)

	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

type CreateUserParams struct {
	Username     string
	Email        string
	Phone        *string
	PasswordHash string
}

type CreateResetParams struct {
	Email     string
	Code      string
	ExpiresAt time.Time
}
