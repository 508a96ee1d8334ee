package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/domain/catalog"
	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/jackc/pgx/v5"
)

// catalogTables names the tables backing one catalog kind. Identifiers come
// from this fixed map, never from input.
type catalogTables struct {
	items      string
	likes      string
	foreignKey string
}

var catalogSchema = map[catalog.Kind]catalogTables{
	catalog.KindTalks: {items: "talks", likes: "talk_likes", foreignKey: "talk_id"},
	catalog.KindTools: {items: "tools", likes: "tool_likes", foreignKey: "tool_id"},
}

// A group is keyed by (group_title, group_id): the trimmed related_title,
// or the row id when there is none. Exactly one of the two is non-null.
const (
	groupTitleSQL = `NULLIF(BTRIM(i.related_title), '')`
	groupIDSQL    = `CASE WHEN NULLIF(BTRIM(i.related_title), '') IS NULL THEN i.id END`
)

const itemColumns = `i.id, i.title, i.category, i.description, i.hazard, i.industry, i.language, i.related_title, i.created_at`

type CatalogRepository struct {
	conn
	kind   catalog.Kind
	tables catalogTables
}

func newCatalogRepository(c conn, kind catalog.Kind) *CatalogRepository {
	tables, ok := catalogSchema[kind]
	if !ok {
		tables = catalogSchema[catalog.KindTalks]
		kind = catalog.KindTalks
	}
	return &CatalogRepository{conn: c, kind: kind, tables: tables}
}

func scanItem(row pgx.Row, extra ...any) (catalog.Item, error) {
	var item catalog.Item
	dest := []any{
		&item.ID,
		&item.Title,
		&item.Category,
		&item.Description,
		&item.Hazard,
		&item.Industry,
		&item.Language,
		&item.RelatedTitle,
		&item.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return item, err
}

func (r *CatalogRepository) List(ctx context.Context, filters catalog.Filters, pagination catalog.Pagination) (items []catalog.Item, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("list_"+string(r.kind), start, err) }()

	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("i.%s = $%d", column, len(args)))
	}
	add("hazard", filters.Hazard)
	add("industry", filters.Industry)
	add("category", filters.Category)
	add("language", filters.Language)

	limit := pagination.Limit
	if limit <= 0 {
		limit = catalog.DefaultListLimit
	}

	query := `SELECT ` + itemColumns + ` FROM ` + r.tables.items + ` i`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, pagination.Offset, limit)
	query += fmt.Sprintf(` ORDER BY i.id OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.kind, err)
	}
	defer rows.Close()

	items = []catalog.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", r.kind, err)
	}
	return items, nil
}

func (r *CatalogRepository) Get(ctx context.Context, id int64) (*catalog.Item, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+itemColumns+` FROM `+r.tables.items+` i WHERE i.id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", r.kind, err)
	}
	return &item, nil
}

func (r *CatalogRepository) DistinctHazards(ctx context.Context, language string) ([]string, error) {
	return r.distinct(ctx, "hazard", language)
}

func (r *CatalogRepository) DistinctIndustries(ctx context.Context, language string) ([]string, error) {
	return r.distinct(ctx, "industry", language)
}

func (r *CatalogRepository) distinct(ctx context.Context, column, language string) ([]string, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT DISTINCT i.`+column+`
  FROM `+r.tables.items+` i
 WHERE i.`+column+` IS NOT NULL
   AND BTRIM(i.`+column+`) <> ''
   AND ($1 = '' OR i.language = $1)
 ORDER BY i.`+column, language)
	if err != nil {
		return nil, fmt.Errorf("distinct %s %s: %w", r.kind, column, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect %s %s: %w", r.kind, column, err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

// Popular joins per-group like totals back to the lowest-id row of each
// group in the requested language. Groups without such a row drop out.
func (r *CatalogRepository) Popular(ctx context.Context, language string, limit int) (items []catalog.PopularItem, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("popular_"+string(r.kind), start, err) }()

	if language == "" {
		language = catalog.DefaultLanguage
	}

	rows, err := r.queryer().Query(ctx, `
WITH group_likes AS (
    SELECT `+groupTitleSQL+` AS group_title, `+groupIDSQL+` AS group_id, COUNT(*) AS like_count
      FROM `+r.tables.likes+` l
      JOIN `+r.tables.items+` i ON i.id = l.`+r.tables.foreignKey+`
     GROUP BY 1, 2
), representatives AS (
    SELECT DISTINCT ON (`+groupTitleSQL+`, `+groupIDSQL+`)
           `+groupTitleSQL+` AS group_title, `+groupIDSQL+` AS group_id, `+itemColumns+`
      FROM `+r.tables.items+` i
     WHERE i.language = $1
     ORDER BY `+groupTitleSQL+`, `+groupIDSQL+`, i.id
)
SELECT i.id, i.title, i.category, i.description, i.hazard, i.industry, i.language, i.related_title, i.created_at, g.like_count
  FROM representatives i
  JOIN group_likes g
    ON g.group_title IS NOT DISTINCT FROM i.group_title
   AND g.group_id IS NOT DISTINCT FROM i.group_id
 ORDER BY g.like_count DESC, i.id
 LIMIT $2`, language, limit)
	if err != nil {
		return nil, fmt.Errorf("popular %s: %w", r.kind, err)
	}
	defer rows.Close()

	items = []catalog.PopularItem{}
	for rows.Next() {
		var count int64
		item, err := scanItem(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan popular %s: %w", r.kind, err)
		}
		items = append(items, catalog.PopularItem{Item: item, LikeCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate popular %s: %w", r.kind, err)
	}
	return items, nil
}

// LockLikeGroup takes a transaction-scoped advisory lock. Outside a
// transaction it would be released immediately, so it refuses to run.
func (r *CatalogRepository) LockLikeGroup(ctx context.Context, userID int64, groupKey string) error {
	if r.tx == nil {
		return errors.New("like group lock requires a transaction")
	}
	key := string(r.kind) + ":" + strconv.FormatInt(userID, 10) + ":" + groupKey
	if _, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return err
	}
	return nil
}

// groupCondition matches every row in the item's group, using the plain
// column so the related_title index applies.
func groupCondition(item catalog.Item, param int) (string, any) {
	title, ok := item.GroupTitle()
	if !ok {
		return fmt.Sprintf("i.id = $%d", param), item.ID
	}
	return fmt.Sprintf("BTRIM(i.related_title) = $%d", param), title
}

func (r *CatalogRepository) DeleteGroupLikes(ctx context.Context, userID int64, item catalog.Item) (int64, error) {
	cond, arg := groupCondition(item, 2)
	tag, err := r.queryer().Exec(ctx, `
DELETE FROM `+r.tables.likes+` l
 USING `+r.tables.items+` i
 WHERE l.`+r.tables.foreignKey+` = i.id
   AND l.user_id = $1
   AND `+cond, userID, arg)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *CatalogRepository) InsertLike(ctx context.Context, userID, itemID int64) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO `+r.tables.likes+` (user_id, `+r.tables.foreignKey+`)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, userID, itemID)
	return err
}

func (r *CatalogRepository) GroupLikeCount(ctx context.Context, item catalog.Item) (int64, error) {
	cond, arg := groupCondition(item, 1)
	var count int64
	err := r.queryer().QueryRow(ctx, `
SELECT COUNT(*)
  FROM `+r.tables.likes+` l
  JOIN `+r.tables.items+` i ON i.id = l.`+r.tables.foreignKey+`
 WHERE `+cond, arg).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *CatalogRepository) UserLikedGroup(ctx context.Context, userID int64, item catalog.Item) (bool, error) {
	cond, arg := groupCondition(item, 2)
	var liked bool
	err := r.queryer().QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1
      FROM `+r.tables.likes+` l
      JOIN `+r.tables.items+` i ON i.id = l.`+r.tables.foreignKey+`
     WHERE l.user_id = $1
       AND `+cond+`
)`, userID, arg).Scan(&liked)
	if err != nil {
		return false, err
	}
	return liked, nil
}

func (r *CatalogRepository) Import(ctx context.Context, items []catalog.NewItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
INSERT INTO `+r.tables.items+` (title, category, description, hazard, industry, language, related_title)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (title, language) DO NOTHING`,
			item.Title, item.Category, item.Description, item.Hazard, item.Industry, item.Language, item.RelatedTitle)
	}

	results := r.queryer().SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	inserted := 0
	for i := range items {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("import %s row %d: %w", r.kind, i+1, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *CatalogRepository) Purge(ctx context.Context) (int64, error) {
	q := r.queryer()
	if _, err := q.Exec(ctx, `DELETE FROM `+r.tables.likes); err != nil {
		return 0, fmt.Errorf("purge %s likes: %w", r.kind, err)
	}
	tag, err := q.Exec(ctx, `DELETE FROM `+r.tables.items)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", r.kind, err)
	}
	return tag.RowsAffected(), nil
}

func (r *CatalogRepository) WithTx(ctx context.Context, fn func(context.Context, catalog.Repository) error) error {
	return r.inTx(ctx, func(c conn) error {
		return fn(ctx, &CatalogRepository{conn: c, kind: r.kind, tables: r.tables})
	})
}
