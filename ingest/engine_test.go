package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/config"
	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/fetcher"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"
	"github.com/AlecRosenbaum/eink-rss-reader/models"
	"github.com/AlecRosenbaum/eink-rss-reader/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*ingest.Engine, *db.Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Migrate(path))

	store, err := db.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return ingest.NewEngine(store, config.Default()), store
}

func newTestUserFeed(t *testing.T, store *db.Store, url string) (models.User, models.Feed) {
	t.Helper()

	ctx := context.Background()
	user, err := store.GetOrCreateUser(ctx, "tester")
	require.NoError(t, err)
	feed, err := store.CreateFeed(ctx, user.Id, url, nil)
	require.NoError(t, err)

	return user, feed
}

// rssDoc builds a minimal RSS 2.0 document with one item per title.
func rssDoc(feedTitle string, itemTitles ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>`)
	fmt.Fprintf(&sb, "<title>%s</title><link>https://example.com</link><description>test</description>", feedTitle)
	for _, title := range itemTitles {
		fmt.Fprintf(&sb,
			"<item><title>%s</title><link>https://example.com/%s</link><guid>%s</guid><description>About %s</description></item>",
			title, title, title, title)
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

func serveDoc(t *testing.T, doc *string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(*doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshFeedIdempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := rssDoc("My Feed", "one", "two", "three")
	srv := serveDoc(t, &doc)
	_, feed := newTestUserFeed(t, store, srv.URL)

	count, err := engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Second refresh with an unchanged document inserts nothing
	count, err = engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	refreshed, err := store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, refreshed.ArticleCount)
	require.NotNil(t, refreshed.Title)
	assert.Equal(t, "My Feed", *refreshed.Title)
	assert.NotNil(t, refreshed.LastFetched)
}

func TestRefreshFeedDedupAcrossDocuments(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := rssDoc("Feed", "a", "b")
	srv := serveDoc(t, &doc)
	_, feed := newTestUserFeed(t, store, srv.URL)

	count, err := engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The document rolls over: b stays, c is new
	doc = rssDoc("Feed", "b", "c")

	count, err = engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	refreshed, err := store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.EqualValues(t, 3, refreshed.ArticleCount)
}

func TestRefreshFeedTitleNeverBlanked(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := rssDoc("Original Title", "a")
	srv := serveDoc(t, &doc)
	_, feed := newTestUserFeed(t, store, srv.URL)

	_, err := engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)

	// An empty document title must not blank the stored one
	doc = rssDoc("", "a")
	_, err = engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)

	refreshed, err := store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	require.NotNil(t, refreshed.Title)
	assert.Equal(t, "Original Title", *refreshed.Title)

	// A changed non-empty title overwrites
	doc = rssDoc("New Title", "a")
	_, err = engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)

	refreshed, err = store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	require.NotNil(t, refreshed.Title)
	assert.Equal(t, "New Title", *refreshed.Title)
}

func TestRefreshFeedFailureAdvancesLastFetched(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	_, feed := newTestUserFeed(t, store, srv.URL)
	require.Nil(t, feed.LastFetched)

	_, err := engine.RefreshFeed(ctx, feed.Id)
	require.Error(t, err)

	var fetchErr *fetcher.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)

	after, err := store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	require.NotNil(t, after.LastFetched, "failed refresh still advances last_fetched")

	// A second consecutive failure must advance it again
	require.NoError(t, store.TouchLastFetched(ctx, feed.Id, time.Unix(1, 0)))

	_, err = engine.RefreshFeed(ctx, feed.Id)
	require.Error(t, err)

	again, err := store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	require.NotNil(t, again.LastFetched)
	assert.Greater(t, again.LastFetched.Unix(), int64(1))
}

func TestRefreshFeedParseError(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := "definitely not xml"
	srv := serveDoc(t, &doc)
	_, feed := newTestUserFeed(t, store, srv.URL)

	_, err := engine.RefreshFeed(ctx, feed.Id)
	require.Error(t, err)

	var parseErr *parser.ParseError
	assert.True(t, errors.As(err, &parseErr))

	after, err := store.GetFeed(ctx, feed.Id)
	require.NoError(t, err)
	assert.NotNil(t, after.LastFetched)
}

func TestRefreshFeedNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.RefreshFeed(context.Background(), 12345)
	assert.ErrorIs(t, err, ingest.ErrFeedNotFound)
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := rssDoc("Healthy", "x", "y")
	healthy := serveDoc(t, &doc)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	broken.Close() // Refuses connections

	user, feedA := newTestUserFeed(t, store, healthy.URL+"/a")
	feedB, err := store.CreateFeed(ctx, user.Id, healthy.URL+"/b", nil)
	require.NoError(t, err)
	feedBad, err := store.CreateFeed(ctx, user.Id, broken.URL, nil)
	require.NoError(t, err)

	results := engine.RefreshAll(ctx, user.Id)
	require.Len(t, results, 3)

	assert.Empty(t, results[feedA.Id].Err)
	assert.Equal(t, 2, results[feedA.Id].New)
	assert.Empty(t, results[feedB.Id].Err)
	assert.NotEmpty(t, results[feedBad.Id].Err, "broken feed becomes an error entry, not a panic")
}

func TestCleanupOldArticlesViaEngine(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	doc := rssDoc("Feed", "recent")
	srv := serveDoc(t, &doc)
	_, feed := newTestUserFeed(t, store, srv.URL)

	_, err := engine.RefreshFeed(ctx, feed.Id)
	require.NoError(t, err)

	// Nothing is old enough to prune
	deleted, err := engine.CleanupOldArticles(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
