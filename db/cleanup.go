package db

import (
	"context"
	"fmt"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// CleanupOldArticles deletes articles fetched before the retention window
// and returns the number of rows removed. Read marks disappear with their
// articles via cascade.
func (s *Store) CleanupOldArticles(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()

	deleteArticles := sb.NewDeleteBuilder()
	query, args := deleteArticles.
		DeleteFrom("articles").
		Where(deleteArticles.LessThan("fetched_at", cutoff)).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete error: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		log.WithFields(log.Fields{
			"deleted":       deleted,
			"retentionDays": retentionDays,
		}).Info("Cleaned up old articles")
	}

	return deleted, nil
}
