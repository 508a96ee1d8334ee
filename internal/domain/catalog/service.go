// Package catalog serves the talk and tool libraries. Both share one
// capability: read-only rows, grouped across language variants by
// related title, which users can like. Likes and popularity are always
// counted per group, never per variant.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/sanitize"
	"github.com/rs/zerolog"
)

const (
	DefaultListLimit    = 100
	MaxListLimit        = 500
	DefaultPopularLimit = 5
	MaxPopularLimit     = 100
	DefaultLanguage     = "en"
)

type Service struct {
	kind   Kind
	repo   Repository
	logger zerolog.Logger
}

func NewService(kind Kind, repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		kind:   kind,
		repo:   repo,
		logger: logger.With().Str("component", "catalog").Str("kind", string(kind)).Logger(),
	}
}

func (s *Service) Kind() Kind {
	return s.kind
}

func (s *Service) List(ctx context.Context, filters Filters, pagination Pagination) ([]Item, error) {
	return s.repo.List(ctx, filters, pagination)
}

func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Hazards(ctx context.Context, language string) ([]string, error) {
	return s.repo.DistinctHazards(ctx, strings.TrimSpace(language))
}

func (s *Service) Industries(ctx context.Context, language string) ([]string, error) {
	return s.repo.DistinctIndustries(ctx, strings.TrimSpace(language))
}

func (s *Service) ByHazard(ctx context.Context, hazard, language string, page Pagination) ([]Item, error) {
	return s.repo.List(ctx, Filters{Hazard: hazard, Language: strings.TrimSpace(language)}, page)
}

func (s *Service) ByIndustry(ctx context.Context, industry, language string, page Pagination) ([]Item, error) {
	return s.repo.List(ctx, Filters{Industry: industry, Language: strings.TrimSpace(language)}, page)
}

// Popular ranks liked groups by total likes across all variants and
// returns, per group, the lowest-id row in the requested language.
func (s *Service) Popular(ctx context.Context, language string, limit int) ([]PopularItem, error) {
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	if limit > MaxPopularLimit {
		limit = MaxPopularLimit
	}
	return s.repo.Popular(ctx, strings.TrimSpace(language), limit)
}

// ToggleLike removes the user's like from the item's group if one exists
// on any variant, otherwise likes the requested row. The whole decision
// runs under a per-user, per-group transaction lock so concurrent toggles
// cannot leave two likes in one group.
func (s *Service) ToggleLike(ctx context.Context, itemID, userID int64) (LikeResult, error) {
	if itemID <= 0 {
		return LikeResult{}, ErrNotFound
	}

	var result LikeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		item, err := tx.Get(ctx, itemID)
		if err != nil {
			return err
		}

		if err := tx.LockLikeGroup(ctx, userID, item.GroupKey()); err != nil {
			return fmt.Errorf("lock like group: %w", err)
		}

		removed, err := tx.DeleteGroupLikes(ctx, userID, *item)
		if err != nil {
			return fmt.Errorf("remove likes: %w", err)
		}
		if removed == 0 {
			if err := tx.InsertLike(ctx, userID, item.ID); err != nil {
				return fmt.Errorf("insert like: %w", err)
			}
			result.Liked = true
		}

		result.LikeCount, err = tx.GroupLikeCount(ctx, *item)
		if err != nil {
			return fmt.Errorf("count likes: %w", err)
		}
		return nil
	})
	if err != nil {
		return LikeResult{}, err
	}

	s.logger.Debug().Int64("item_id", itemID).Int64("user_id", userID).Bool("liked", result.Liked).Msg("like toggled")
	return result, nil
}

func (s *Service) LikeInfo(ctx context.Context, itemID, userID int64) (LikeInfo, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return LikeInfo{}, err
	}

	count, err := s.repo.GroupLikeCount(ctx, *item)
	if err != nil {
		return LikeInfo{}, fmt.Errorf("count likes: %w", err)
	}
	liked, err := s.repo.UserLikedGroup(ctx, userID, *item)
	if err != nil {
		return LikeInfo{}, fmt.Errorf("check user like: %w", err)
	}

	return LikeInfo{LikeCount: count, UserLiked: liked}, nil
}

// Import cleans and loads catalog rows in one transaction. Rows already
// present by (title, language) are skipped.
func (s *Service) Import(ctx context.Context, items []NewItem) (int, error) {
	cleaned := make([]NewItem, 0, len(items))
	for i, item := range items {
		item.Title = sanitize.Line(item.Title)
		item.Category = sanitize.Line(item.Category)
		item.Language = strings.ToLower(sanitize.Line(item.Language))
		if item.Language == "" {
			item.Language = DefaultLanguage
		}
		item.Description = cleanOptional(item.Description, sanitize.Text)
		item.Hazard = cleanOptional(item.Hazard, sanitize.Line)
		item.Industry = cleanOptional(item.Industry, sanitize.Line)
		item.RelatedTitle = cleanOptional(item.RelatedTitle, sanitize.Line)

		if item.Title == "" {
			return 0, FilterError{Field: "title", Message: "row " + strconv.Itoa(i+1) + " has no title"}
		}
		if item.Category == "" {
			return 0, FilterError{Field: "category", Message: "row " + strconv.Itoa(i+1) + " has no category"}
		}
		cleaned = append(cleaned, item)
	}

	var inserted int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		inserted, err = tx.Import(ctx, cleaned)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", s.kind, err)
	}

	s.logger.Info().Int("rows", len(cleaned)).Int("inserted", inserted).Msg("catalog imported")
	return inserted, nil
}

func (s *Service) Purge(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		deleted, err = tx.Purge(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", s.kind, err)
	}
	return deleted, nil
}

func cleanOptional(value *string, clean func(string) string) *string {
	if value == nil {
		return nil
	}
	cleaned := clean(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsFilterError(err error) bool {
	var fe FilterError
	return errors.As(err, &fe)
}

// ParseFilters reads list filters and skip/limit pagination from a query
// string.
func ParseFilters(values url.Values) (Filters, Pagination, error) {
	filters := Filters{
		Hazard:   strings.TrimSpace(values.Get("hazard")),
		Industry: strings.TrimSpace(values.Get("industry")),
		Category: strings.TrimSpace(values.Get("category")),
		Language: strings.TrimSpace(values.Get("language")),
	}
	pagination, err := ParsePage(values, DefaultListLimit)
	if err != nil {
		return Filters{}, Pagination{}, err
	}
	return filters, pagination, nil
}

// ParsePage reads skip/limit, using defaultLimit when limit is absent.
func ParsePage(values url.Values, defaultLimit int) (Pagination, error) {
	pagination := Pagination{Limit: defaultLimit}

	if raw := strings.TrimSpace(values.Get("skip")); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return Pagination{}, FilterError{Field: "skip", Message: "must be a non-negative integer"}
		}
		pagination.Offset = skip
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			return Pagination{}, FilterError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(MaxListLimit)}
		}
		pagination.Limit = limit
	}

	return pagination, nil
}

// ParsePopular reads the language and limit of a popularity query.
func ParsePopular(values url.Values) (string, int, error) {
	language := strings.TrimSpace(values.Get("language"))
	limit := DefaultPopularLimit

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > MaxPopularLimit {
			return "", 0, FilterError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(MaxPopularLimit)}
		}
		limit = parsed
	}

	return language, limit, nil
}
