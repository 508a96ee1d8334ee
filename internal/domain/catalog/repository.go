package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("item not found")

// Kind selects which catalog a service or repository operates on.
type Kind string

const (
	KindTalks Kind = "talks"
	KindTools Kind = "tools"
)

func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindTalks:
		return KindTalks, nil
	case KindTools:
		return KindTools, nil
	default:
		return "", FilterError{Field: "kind", Message: "must be talks or tools"}
	}
}

// Noun is the capitalised singular used in user-facing messages.
func (k Kind) Noun() string {
	if k == KindTools {
		return "Tool"
	}
	return "Talk"
}

// Item is one language variant of a talk or tool. Variants of the same
// logical item share a RelatedTitle.
type Item struct {
	ID           int64
	Title        string
	Category     string
	Description  *string
	Hazard       *string
	Industry     *string
	Language     string
	RelatedTitle *string
	CreatedAt    time.Time
}

// GroupKey identifies the logical item this row belongs to. Rows without a
// related title form a group of one. The two kinds of key never collide.
func (i Item) GroupKey() string {
	if title, ok := i.GroupTitle(); ok {
		return "title:" + title
	}
	return "id:" + strconv.FormatInt(i.ID, 10)
}

// GroupTitle is the trimmed related_title, if the row has one.
func (i Item) GroupTitle() (string, bool) {
	if i.RelatedTitle == nil {
		return "", false
	}
	title := strings.TrimSpace(*i.RelatedTitle)
	return title, title != ""
}

type PopularItem struct {
	Item
	LikeCount int64
}

type LikeResult struct {
	Liked     bool
	LikeCount int64
}

type LikeInfo struct {
	LikeCount int64
	UserLiked bool
}

type Filters struct {
	Hazard   string
	Industry string
	Category string
	Language string
}

type Pagination struct {
	Offset int
	Limit  int
}

// NewItem is one row of a catalog import.
type NewItem struct {
	Title        string  `yaml:"title"`
	Category     string  `yaml:"category"`
	Description  *string `yaml:"description"`
	Hazard       *string `yaml:"hazard"`
	Industry     *string `yaml:"industry"`
	Language     string  `yaml:"language"`
	RelatedTitle *string `yaml:"related_title"`
}

// Repository reads one catalog and its likes. Group operations take the
// item so the implementation can address every variant sharing its key.
type Repository interface {
	List(ctx context.Context, filters Filters, pagination Pagination) ([]Item, error)
	Get(ctx context.Context, id int64) (*Item, error)
	DistinctHazards(ctx context.Context, language string) ([]string, error)
	DistinctIndustries(ctx context.Context, language string) ([]string, error)
	Popular(ctx context.Context, language string, limit int) ([]PopularItem, error)

	// LockLikeGroup serialises toggles by one user on one group until the
	// surrounding transaction ends.
	LockLikeGroup(ctx context.Context, userID int64, groupKey string) error
	DeleteGroupLikes(ctx context.Context, userID int64, item Item) (int64, error)
	InsertLike(ctx context.Context, userID, itemID int64) error
	GroupLikeCount(ctx context.Context, item Item) (int64, error)
	UserLikedGroup(ctx context.Context, userID int64, item Item) (bool, error)

	// Import inserts rows whose (title, language) is not yet present and
	// reports how many were added.
	Import(ctx context.Context, items []NewItem) (int, error)
	// Purge deletes every item and like in the catalog.
	Purge(ctx context.Context) (int64, error)

	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
