package models

import (
	"crypto/rand"
	"math/big"
	"time"
)

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateUserKey returns a random lowercase alphanumeric key of the given length.
func GenerateUserKey(length int) string {
	key := make([]byte, length)
	for i := range key {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			// Only fails when the OS entropy source is unavailable
			panic(err)
		}
		key[i] = keyAlphabet[n.Int64()]
	}
	return string(key)
}

// User is identified by a short opaque key, nothing more
type User struct {
	Id        int64     `json:"id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// Feed is a subscribed RSS/Atom document owned by a single user
type Feed struct {
	Id           int64      `json:"id"`
	UserId       int64      `json:"userId"`
	Url          string     `json:"url"`
	Title        *string    `json:"title,omitempty"`
	Labels       []string   `json:"labels"`
	LastFetched  *time.Time `json:"lastFetched,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ArticleCount int64      `json:"articleCount"`
}

// Article is the persisted, normalized form of one feed entry. Content is
// only populated for single-article reads, never for listings.
type Article struct {
	Id          int64      `json:"id"`
	FeedId      int64      `json:"feedId"`
	Guid        string     `json:"-"`
	Title       *string    `json:"title,omitempty"`
	Link        *string    `json:"link,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	FetchedAt   time.Time  `json:"fetchedAt"`
	FeedTitle   *string    `json:"feedTitle,omitempty"`
	IsRead      bool       `json:"isRead"`
}

type PaginatedArticles struct {
	Articles   []Article `json:"articles"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	TotalCount int64     `json:"totalCount"`
	HasPrev    bool      `json:"hasPrev"`
	HasNext    bool      `json:"hasNext"`
}
