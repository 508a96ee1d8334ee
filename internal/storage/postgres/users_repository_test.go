package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/domain/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepositoryCreateAndLookupIgnoresCase(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo := newTestRepository(t, pool).Users()

	created, err := repo.CreateUser(ctx, users.CreateUserParams{
		Username:     "Alice",
		Email:        "Alice@Example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Username)
	assert.Nil(t, created.Phone)

	byName, err := repo.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byEmail, err := repo.GetUserByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = repo.GetUserByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestUserRepositoryCreateConflicts(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo := newTestRepository(t, pool).Users()

	_, err := repo.CreateUser(ctx, users.CreateUserParams{Username: "bob", Email: "bob@example.com", PasswordHash: "hash"})
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, users.CreateUserParams{Username: "BOB", Email: "other@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, users.ErrUsernameTaken)

	_, err = repo.CreateUser(ctx, users.CreateUserParams{Username: "robert", Email: "BOB@example.com", PasswordHash: "hash"})
	assert.ErrorIs(t, err, users.ErrEmailTaken)
}

func TestUserRepositoryPasswordResetLifecycle(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo := newTestRepository(t, pool).Users()
	now := time.Now().UTC()

	_, err := repo.CreatePasswordReset(ctx, users.CreateResetParams{Email: "carol@example.com", Code: "111111", ExpiresAt: now.Add(15 * time.Minute)})
	require.NoError(t, err)
	latest, err := repo.CreatePasswordReset(ctx, users.CreateResetParams{Email: "carol@example.com", Code: "222222", ExpiresAt: now.Add(15 * time.Minute)})
	require.NoError(t, err)
	_, err = repo.CreatePasswordReset(ctx, users.CreateResetParams{Email: "carol@example.com", Code: "333333", ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)

	got, err := repo.LatestValidReset(ctx, "CAROL@example.com", now, false)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
	assert.Equal(t, "222222", got.Code)

	require.NoError(t, repo.MarkResetUsed(ctx, latest.ID))
	assert.ErrorIs(t, repo.MarkResetUsed(ctx, latest.ID), users.ErrResetNotFound, "codes are single use")

	got, err = repo.LatestValidReset(ctx, "carol@example.com", now, false)
	require.NoError(t, err)
	assert.Equal(t, "111111", got.Code)

	purged, err := repo.PurgePasswordResets(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	require.NoError(t, repo.DeletePasswordReset(ctx, got.ID))
	_, err = repo.LatestValidReset(ctx, "carol@example.com", now, false)
	assert.ErrorIs(t, err, users.ErrResetNotFound)
}

func TestUserRepositoryDeleteUserDataInTransaction(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	root := newTestRepository(t, pool)

	userID := insertUser(t, ctx, pool, "dave", "dave@example.com")
	otherID := insertUser(t, ctx, pool, "erin", "erin@example.com")
	talkID := insertItem(t, ctx, pool, "talks", "Ladder Safety", "en", nil)
	toolID := insertItem(t, ctx, pool, "tools", "Harness Check", "en", nil)

	_, err := pool.Exec(ctx, `INSERT INTO talk_likes (user_id, talk_id) VALUES ($1, $3), ($2, $3)`, userID, otherID, talkID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tool_likes (user_id, tool_id) VALUES ($1, $2)`, userID, toolID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO talk_history (user_id, talk_title) VALUES ($1, 'Ladder Safety')`, userID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tickets (user_id, name, email, topic, message) VALUES ($1, 'Dave', 'dave@example.com', 'Help', 'Body')`, userID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO device_endpoints (user_id, device_token, endpoint_arn) VALUES ($1, 'tok', 'arn')`, userID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO password_resets (email, code, expires_at) VALUES ('Dave@Example.com', '123456', now())`)
	require.NoError(t, err)

	var deleted users.DeletedRows
	err = root.Users().WithTx(ctx, func(ctx context.Context, tx users.Repository) error {
		var err error
		deleted, err = tx.DeleteUserData(ctx, userID, "dave@example.com")
		if err != nil {
			return err
		}
		return tx.DeleteUser(ctx, userID)
	})
	require.NoError(t, err)

	assert.Equal(t, users.DeletedRows{History: 1, TalkLikes: 1, ToolLikes: 1, Tickets: 1, DeviceEndpoints: 1, PasswordResets: 1}, deleted)

	_, err = root.Users().GetUserByID(ctx, userID)
	assert.ErrorIs(t, err, users.ErrUserNotFound)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM talk_likes`).Scan(&remaining))
	assert.Equal(t, 1, remaining, "other users' likes survive")
}

func TestUserRepositoryWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo := newTestRepository(t, pool).Users()

	userID := insertUser(t, ctx, pool, "frank", "frank@example.com")

	err := repo.WithTx(ctx, func(ctx context.Context, tx users.Repository) error {
		if err := tx.UpdatePassword(ctx, userID, "new-hash"); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, userID+999)
	})
	require.ErrorIs(t, err, users.ErrUserNotFound)

	user, err := repo.GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "hash", user.PasswordHash)
}
