// Package history tracks which talks each user has opened. A user holds at
// most one entry per (title, language); recording again bumps it to the
// top.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/sanitize"
	"github.com/rs/zerolog"
)

const DefaultLanguage = "en"

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

func (s *Service) Record(ctx context.Context, userID int64, title, language string) (*Entry, error) {
	title = sanitize.Line(title)
	if title == "" {
		return nil, ValidationError{Field: "talk_title", Message: "is required"}
	}
	if len(title) > 500 {
		return nil, ValidationError{Field: "talk_title", Message: "must be at most 500 characters"}
	}

	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = DefaultLanguage
	}

	entry, err := s.repo.Replace(ctx, userID, title, language, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("record history: %w", err)
	}
	return entry, nil
}

// List returns the user's entries, most recently accessed first.
func (s *Service) List(ctx context.Context, userID int64) ([]Entry, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID, id int64) (*Entry, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, userID, id)
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	return s.repo.Delete(ctx, userID, id)
}

// Purge drops entries older than olderThan, or every entry when olderThan
// is zero.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	var before *time.Time
	if olderThan > 0 {
		cutoff := s.now().Add(-olderThan)
		before = &cutoff
	}

	deleted, err := s.repo.Purge(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}

	s.logger.Info().Int64("deleted", deleted).Dur("older_than", olderThan).Msg("history purged")
	return deleted, nil
}
