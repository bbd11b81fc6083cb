package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/models"

	log "github.com/sirupsen/logrus"
)

// normalizeKey lowercases a user key; keys are case-insensitive identities.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// GetUserByKey looks a user up by their key. Returns ErrNotFound when no
// user owns the key.
func (s *Store) GetUserByKey(ctx context.Context, key string) (models.User, error) {
	var (
		user      models.User
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, key, created_at FROM users WHERE key = ?",
		normalizeKey(key),
	).Scan(&user.Id, &user.Key, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query error: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	return user, nil
}

// CreateUser creates a user with the given key. The key must be non-empty;
// callers generate random keys themselves when the user did not pick one.
func (s *Store) CreateUser(ctx context.Context, key string) (models.User, error) {
	key = normalizeKey(key)
	if key == "" {
		return models.User{}, errors.New("user key must not be empty")
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (key, created_at) VALUES (?, ?)",
		key, now.Unix(),
	)
	if err != nil {
		return models.User{}, fmt.Errorf("insert error: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("error getting inserted id: %w", err)
	}

	log.WithFields(log.Fields{
		"id":  id,
		"key": key,
	}).Info("Created user")

	return models.User{Id: id, Key: key, CreatedAt: now}, nil
}

// GetOrCreateUser returns the user owning the key, creating one on first use.
func (s *Store) GetOrCreateUser(ctx context.Context, key string) (models.User, error) {
	user, err := s.GetUserByKey(ctx, key)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, err
	}
	return s.CreateUser(ctx, key)
}

// ListUserIDs returns the ids of every registered user.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
