package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
)

// ArticleInsert is a normalized article candidate produced by the ingestion
// engine.
type ArticleInsert struct {
	FeedId      int64
	Guid        string
	Title       *string
	Link        *string
	Content     *string
	Summary     *string
	PublishedAt *time.Time
}

// InsertArticle inserts an article keyed by (feed_id, guid). The uniqueness
// constraint is the dedup guard: a conflicting insert is reported as
// created == false, not as an error. There is no existence pre-check;
// check-then-act would race under concurrent refreshes of the same feed.
func (s *Store) InsertArticle(ctx context.Context, article ArticleInsert) (bool, error) {
	var publishedAt any
	if article.PublishedAt != nil {
		publishedAt = article.PublishedAt.Unix()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (feed_id, guid, title, link, content, summary, published_at, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, guid) DO NOTHING`,
		article.FeedId,
		article.Guid,
		article.Title,
		article.Link,
		article.Content,
		article.Summary,
		publishedAt,
		time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// ListArticles returns one page of a user's articles, newest first, with
// optional unread-only and label filters.
func (s *Store) ListArticles(ctx context.Context, userID int64, page int, perPage int, hideRead bool, label string) (models.PaginatedArticles, error) {
	if page < 1 {
		page = 1
	}

	build := func(selectCols ...string) *sqlbuilder.SelectBuilder {
		sb := sqlbuilder.NewSelectBuilder()
		sb.Select(selectCols...).From("articles a")
		sb.Join("feeds f", "a.feed_id = f.id")
		sb.JoinWithOption(sqlbuilder.LeftJoin, "read_articles ra",
			"a.id = ra.article_id", sb.Equal("ra.user_id", userID))
		if label != "" {
			sb.JoinWithOption(sqlbuilder.LeftJoin, "feed_labels fl", "f.id = fl.feed_id")
			sb.Where(sb.Equal("fl.label", label))
		}
		sb.Where(sb.Equal("f.user_id", userID))
		if hideRead {
			sb.Where(sb.IsNull("ra.article_id"))
		}
		return sb
	}

	countQuery, countArgs := build("COUNT(DISTINCT a.id)").Build()

	var totalCount int64
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return models.PaginatedArticles{}, fmt.Errorf("count error: %w", err)
	}

	totalPages := int((totalCount + int64(perPage) - 1) / int64(perPage))
	if totalPages < 1 {
		totalPages = 1
	}

	sb := build(
		"DISTINCT a.id", "a.feed_id", "a.guid", "a.title", "a.link", "a.summary",
		"a.published_at", "a.fetched_at", "f.title AS feed_title",
		"CASE WHEN ra.article_id IS NOT NULL THEN 1 ELSE 0 END AS is_read",
	)
	// NULL publication dates sort last, then fall back to fetch time
	sb.OrderBy("a.published_at IS NULL", "a.published_at DESC", "a.fetched_at DESC")
	sb.Limit(perPage).Offset((page - 1) * perPage)

	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.PaginatedArticles{}, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		article, err := scanArticle(rows, false)
		if err != nil {
			return models.PaginatedArticles{}, err
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return models.PaginatedArticles{}, err
	}

	return models.PaginatedArticles{
		Articles:   articles,
		Page:       page,
		TotalPages: totalPages,
		TotalCount: totalCount,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}, nil
}

// GetArticle returns a single article with full content and the read flag
// for the given user.
func (s *Store) GetArticle(ctx context.Context, articleID int64, userID int64) (models.Article, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.feed_id, a.guid, a.title, a.link, a.content, a.summary,
			a.published_at, a.fetched_at, f.title AS feed_title,
			CASE WHEN ra.article_id IS NOT NULL THEN 1 ELSE 0 END AS is_read
		FROM articles a
		JOIN feeds f ON a.feed_id = f.id
		LEFT JOIN read_articles ra ON a.id = ra.article_id AND ra.user_id = ?
		WHERE a.id = ? AND f.user_id = ?`,
		userID, articleID, userID,
	)

	article, err := scanArticle(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Article{}, ErrNotFound
	}
	if err != nil {
		return models.Article{}, err
	}
	return article, nil
}

// MarkRead records a read mark; marking twice is a no-op.
func (s *Store) MarkRead(ctx context.Context, userID int64, articleID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO read_articles (user_id, article_id, read_at)
		VALUES (?, ?, ?)`,
		userID, articleID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// MarkUnread removes a read mark; absence of the mark means unread.
func (s *Store) MarkUnread(ctx context.Context, userID int64, articleID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM read_articles WHERE user_id = ? AND article_id = ?",
		userID, articleID,
	)
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner, withContent bool) (models.Article, error) {
	var (
		article     models.Article
		title       sql.NullString
		link        sql.NullString
		content     sql.NullString
		summary     sql.NullString
		publishedAt sql.NullInt64
		fetchedAt   int64
		feedTitle   sql.NullString
		isRead      int
	)

	dest := []any{&article.Id, &article.FeedId, &article.Guid, &title, &link}
	if withContent {
		dest = append(dest, &content)
	}
	dest = append(dest, &summary, &publishedAt, &fetchedAt, &feedTitle, &isRead)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Article{}, err
		}
		return models.Article{}, fmt.Errorf("scan error: %w", err)
	}

	article.Title = nullString(title)
	article.Link = nullString(link)
	article.Content = nullString(content)
	article.Summary = nullString(summary)
	article.PublishedAt = nullTime(publishedAt)
	article.FetchedAt = time.Unix(fetchedAt, 0)
	article.FeedTitle = nullString(feedTitle)
	article.IsRead = isRead == 1

	return article, nil
}
