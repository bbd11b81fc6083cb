package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// NormalizeLabels trims, lowercases and drops empty labels. Every label write
// path goes through this; nothing downstream sees unnormalized labels.
func NormalizeLabels(labels []string) []string {
	normalized := lo.FilterMap(labels, func(label string, _ int) (string, bool) {
		label = strings.ToLower(strings.TrimSpace(label))
		return label, label != ""
	})
	return lo.Uniq(normalized)
}

// CreateFeed subscribes a user to a feed URL with an optional set of labels.
// The (user_id, url) pair is unique; subscribing twice is an error.
func (s *Store) CreateFeed(ctx context.Context, userID int64, url string, labels []string) (models.Feed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return models.Feed{}, errors.New("feed url must not be empty")
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO feeds (user_id, url, created_at) VALUES (?, ?, ?)",
		userID, url, time.Now().Unix(),
	)
	if err != nil {
		return models.Feed{}, fmt.Errorf("insert error: %w", err)
	}

	feedID, err := res.LastInsertId()
	if err != nil {
		return models.Feed{}, fmt.Errorf("error getting inserted id: %w", err)
	}

	if len(labels) > 0 {
		if err := s.SetFeedLabels(ctx, feedID, labels); err != nil {
			return models.Feed{}, err
		}
	}

	log.WithFields(log.Fields{
		"feed": feedID,
		"user": userID,
		"url":  url,
	}).Info("Created feed")

	return s.GetFeed(ctx, feedID)
}

// GetFeed returns a single feed with its labels and article count.
func (s *Store) GetFeed(ctx context.Context, feedID int64) (models.Feed, error) {
	var (
		feed        models.Feed
		title       sql.NullString
		lastFetched sql.NullInt64
		createdAt   int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.user_id, f.url, f.title, f.last_fetched, f.created_at,
			COUNT(a.id) AS article_count
		FROM feeds f
		LEFT JOIN articles a ON f.id = a.feed_id
		WHERE f.id = ?
		GROUP BY f.id`,
		feedID,
	).Scan(&feed.Id, &feed.UserId, &feed.Url, &title, &lastFetched, &createdAt, &feed.ArticleCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Feed{}, ErrNotFound
	}
	if err != nil {
		return models.Feed{}, fmt.Errorf("query error: %w", err)
	}

	feed.Title = nullString(title)
	feed.LastFetched = nullTime(lastFetched)
	feed.CreatedAt = time.Unix(createdAt, 0)

	feed.Labels, err = s.feedLabels(ctx, feedID)
	if err != nil {
		return models.Feed{}, err
	}

	return feed, nil
}

// ListUserFeeds returns all feeds of a user with labels and article counts.
func (s *Store) ListUserFeeds(ctx context.Context, userID int64) ([]models.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.user_id, f.url, f.title, f.last_fetched, f.created_at,
			COUNT(a.id) AS article_count
		FROM feeds f
		LEFT JOIN articles a ON f.id = a.feed_id
		WHERE f.user_id = ?
		GROUP BY f.id
		ORDER BY f.title, f.url`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	feeds := []models.Feed{}
	for rows.Next() {
		var (
			feed        models.Feed
			title       sql.NullString
			lastFetched sql.NullInt64
			createdAt   int64
		)
		if err := rows.Scan(&feed.Id, &feed.UserId, &feed.Url, &title, &lastFetched, &createdAt, &feed.ArticleCount); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		feed.Title = nullString(title)
		feed.LastFetched = nullTime(lastFetched)
		feed.CreatedAt = time.Unix(createdAt, 0)
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range feeds {
		feeds[i].Labels, err = s.feedLabels(ctx, feeds[i].Id)
		if err != nil {
			return nil, err
		}
	}

	return feeds, nil
}

// DeleteFeed removes a feed; labels and articles go with it via cascade.
func (s *Store) DeleteFeed(ctx context.Context, feedID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", feedID)
	if err != nil {
		return false, fmt.Errorf("delete error: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// SetFeedLabels replaces a feed's labels with the normalized form of the
// given set.
func (s *Store) SetFeedLabels(ctx context.Context, feedID int64, labels []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM feed_labels WHERE feed_id = ?", feedID); err != nil {
		return fmt.Errorf("delete error: %w", err)
	}

	for _, label := range NormalizeLabels(labels) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO feed_labels (feed_id, label) VALUES (?, ?)",
			feedID, label,
		); err != nil {
			return fmt.Errorf("insert error: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) feedLabels(ctx context.Context, feedID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT label FROM feed_labels WHERE feed_id = ? ORDER BY label",
		feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// ListUserLabels returns the distinct labels across all of a user's feeds.
func (s *Store) ListUserLabels(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT fl.label
		FROM feed_labels fl
		JOIN feeds f ON fl.feed_id = f.id
		WHERE f.user_id = ?
		ORDER BY fl.label`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// UpdateFeedTitle overwrites a feed's title. The ingestion engine only calls
// this with a non-empty title that differs from the stored one.
func (s *Store) UpdateFeedTitle(ctx context.Context, feedID int64, title string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE feeds SET title = ? WHERE id = ?", title, feedID)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// TouchLastFetched records a refresh attempt. Called after every attempt,
// success or failure, so broken feeds are not retried at full frequency.
func (s *Store) TouchLastFetched(ctx context.Context, feedID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE feeds SET last_fetched = ? WHERE id = ?", at.Unix(), feedID)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}
