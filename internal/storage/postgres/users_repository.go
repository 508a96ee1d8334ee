package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/domain/users"
	"github.com/jackc/pgx/v5"
)

type UserRepository struct {
	conn
}

const userColumns = `id, username, email, phone, password_hash, profile_image, created_at, updated_at`

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Phone,
		&u.PasswordHash,
		&u.ProfileImage,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, params users.CreateUserParams) (*users.User, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO users (username, email, phone, password_hash)
VALUES (lower($1), $2, $3, $4)
RETURNING `+userColumns,
		params.Username, params.Email, params.Phone, params.PasswordHash,
	)
	u, err := scanUser(row)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "users_username_lower_key":
				return nil, users.ErrUsernameTaken
			case "users_email_lower_key":
				return nil, users.ErrEmailTaken
			}
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*users.User, error) {
	return r.getUser(ctx, "id = $1", id)
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.getUser(ctx, "lower(username) = lower($1)", strings.TrimSpace(username))
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getUser(ctx, "lower(email) = lower($1)", strings.TrimSpace(email))
}

func (r *UserRepository) getUser(ctx context.Context, where string, arg any) (*users.User, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdateProfileImage(ctx context.Context, id int64, url string) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE users SET profile_image = $2, updated_at = now() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("update profile image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

// DeleteUserData removes dependent rows child tables first. Callers run it
// in the same transaction as DeleteUser.
func (r *UserRepository) DeleteUserData(ctx context.Context, userID int64, email string) (users.DeletedRows, error) {
	var deleted users.DeletedRows
	steps := []struct {
		name  string
		query string
		arg   any
		count *int64
	}{
		{"history", `DELETE FROM talk_history WHERE user_id = $1`, userID, &deleted.History},
		{"talk likes", `DELETE FROM talk_likes WHERE user_id = $1`, userID, &deleted.TalkLikes},
		{"tool likes", `DELETE FROM tool_likes WHERE user_id = $1`, userID, &deleted.ToolLikes},
		{"tickets", `DELETE FROM tickets WHERE user_id = $1`, userID, &deleted.Tickets},
		{"device endpoints", `DELETE FROM device_endpoints WHERE user_id = $1`, userID, &deleted.DeviceEndpoints},
		{"password resets", `DELETE FROM password_resets WHERE lower(email) = lower($1)`, email, &deleted.PasswordResets},
	}

	q := r.queryer()
	for _, step := range steps {
		tag, err := q.Exec(ctx, step.query, step.arg)
		if err != nil {
			return users.DeletedRows{}, fmt.Errorf("delete %s: %w", step.name, err)
		}
		*step.count = tag.RowsAffected()
	}
	return deleted, nil
}

func (r *UserRepository) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

const resetColumns = `id, email, code, created_at, expires_at, is_used`

func scanReset(row pgx.Row) (*users.PasswordReset, error) {
	var pr users.PasswordReset
	if err := row.Scan(&pr.ID, &pr.Email, &pr.Code, &pr.CreatedAt, &pr.ExpiresAt, &pr.IsUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrResetNotFound
		}
		return nil, err
	}
	return &pr, nil
}

func (r *UserRepository) CreatePasswordReset(ctx context.Context, params users.CreateResetParams) (*users.PasswordReset, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO password_resets (email, code, expires_at)
VALUES ($1, $2, $3)
RETURNING `+resetColumns,
		params.Email, params.Code, params.ExpiresAt,
	)
	pr, err := scanReset(row)
	if err != nil {
		return nil, fmt.Errorf("create password reset: %w", err)
	}
	return pr, nil
}

func (r *UserRepository) LatestValidReset(ctx context.Context, email string, now time.Time, forUpdate bool) (*users.PasswordReset, error) {
	query := `
SELECT ` + resetColumns + `
  FROM password_resets
 WHERE lower(email) = lower($1)
   AND is_used = false
   AND expires_at > $2
 ORDER BY created_at DESC, id DESC
 LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	pr, err := scanReset(r.queryer().QueryRow(ctx, query, strings.TrimSpace(email), now))
	if err != nil {
		if errors.Is(err, users.ErrResetNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("latest password reset: %w", err)
	}
	return pr, nil
}

func (r *UserRepository) MarkResetUsed(ctx context.Context, id int64) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE password_resets SET is_used = true WHERE id = $1 AND is_used = false`, id)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrResetNotFound
	}
	return nil
}

func (r *UserRepository) DeletePasswordReset(ctx context.Context, id int64) error {
	if _, err := r.queryer().Exec(ctx, `DELETE FROM password_resets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete password reset: %w", err)
	}
	return nil
}

func (r *UserRepository) PurgePasswordResets(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.queryer().Exec(ctx,
		`DELETE FROM password_resets WHERE is_used = true OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge password resets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *UserRepository) WithTx(ctx context.Context, fn func(context.Context, users.Repository) error) error {
	return r.inTx(ctx, func(c conn) error {
		return fn(ctx, &UserRepository{conn: c})
	})
}
