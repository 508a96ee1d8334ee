package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/domain/history"
	"github.com/jackc/pgx/v5"
)

type HistoryRepository struct {
	conn
}

// Replace deletes the exact (user, title, language) row and inserts a new
// one so the entry moves to the top with a fresh id. A concurrent insert of
// the same tuple is folded in by the conflict clause.
func (r *HistoryRepository) Replace(ctx context.Context, userID int64, title, language string, accessedAt time.Time) (*history.Entry, error) {
	var entry history.Entry
	err := r.inTx(ctx, func(c conn) error {
		q := c.queryer()
		if _, err := q.Exec(ctx, `
DELETE FROM talk_history
 WHERE user_id = $1 AND talk_title = $2 AND language = $3`, userID, title, language); err != nil {
			return fmt.Errorf("delete previous history: %w", err)
		}

		err := q.QueryRow(ctx, `
INSERT INTO talk_history (user_id, talk_title, language, accessed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, talk_title, language) DO UPDATE SET accessed_at = EXCLUDED.accessed_at
RETURNING id, user_id, talk_title, language, accessed_at`,
			userID, title, language, accessedAt,
		).Scan(&entry.ID, &entry.UserID, &entry.TalkTitle, &entry.Language, &entry.AccessedAt)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *HistoryRepository) List(ctx context.Context, userID int64) ([]history.Entry, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, user_id, talk_title, language, accessed_at
  FROM talk_history
 WHERE user_id = $1
 ORDER BY accessed_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[history.Entry])
	if err != nil {
		return nil, fmt.Errorf("collect history: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

func (r *HistoryRepository) Get(ctx context.Context, userID, id int64) (*history.Entry, error) {
	var entry history.Entry
	err := r.queryer().QueryRow(ctx, `
SELECT id, user_id, talk_title, language, accessed_at
  FROM talk_history
 WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&entry.ID, &entry.UserID, &entry.TalkTitle, &entry.Language, &entry.AccessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, history.ErrNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &entry, nil
}

func (r *HistoryRepository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM talk_history WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

func (r *HistoryRepository) Purge(ctx context.Context, before *time.Time) (int64, error) {
	query, args := `DELETE FROM talk_history`, []any{}
	if before != nil {
		query += ` WHERE accessed_at < $1`
		args = append(args, *before)
	}
	tag, err := r.queryer().Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return tag.RowsAffected(), nil
}
