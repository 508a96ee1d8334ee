package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("history item not found")

// Entry records that a user opened a talk in a given language.
type Entry struct {
	ID         int64
	UserID     int64
	TalkTitle  string
	Language   string
	AccessedAt time.Time
}

// Repository stores history. Get and Delete are scoped to the owner and
// return ErrNotFound for rows that are missing or belong to someone else.
type Repository interface {
	// Replace removes any row for (user, title, language) and inserts a
	// fresh one accessed at the given time, atomically.
	Replace(ctx context.Context, userID int64, title, language string, accessedAt time.Time) (*Entry, error)
	List(ctx context.Context, userID int64) ([]Entry, error)
	Get(ctx context.Context, userID, id int64) (*Entry, error)
	Delete(ctx context.Context, userID, id int64) error
	// Purge deletes rows accessed before the cutoff; a nil cutoff deletes
	// every row.
	Purge(ctx context.Context, before *time.Time) (int64, error)
}
