package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AlecRosenbaum/eink-rss-reader/config"
	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"
	"github.com/AlecRosenbaum/eink-rss-reader/server"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*fiber.App, *db.Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Migrate(path))

	store, err := db.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	app := server.Server(server.ServerConfig{
		Store:  store,
		Engine: ingest.NewEngine(store, cfg),
		Config: cfg,
	})

	return app, store
}

func request(t *testing.T, app *fiber.App, method, path, key, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-User-Key", key)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	var parsed map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &parsed))
	}

	return resp, parsed
}

const feedDoc = `<?xml version="1.0"?><rss version="2.0"><channel>
<title>Test Feed</title><link>https://example.com</link><description>d</description>
<item><title>One</title><guid>one</guid><link>https://example.com/one</link></item>
<item><title>Two</title><guid>two</guid><link>https://example.com/two</link></item>
</channel></rss>`

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := request(t, app, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateSessionGeneratesKey(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := request(t, app, http.MethodPost, "/api/session", "", "{}")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	key, _ := body["key"].(string)
	assert.Len(t, key, 8)

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == "key" {
			cookie = c.Value
		}
	}
	assert.Equal(t, key, cookie)
}

func TestCreateSessionExplicitKey(t *testing.T) {
	app, store := newTestApp(t)

	resp, body := request(t, app, http.MethodPost, "/api/session", "", `{"key":" MyKey1 "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "mykey1", body["key"])

	// The same key resolves to the same user
	resp2, body2 := request(t, app, http.MethodPost, "/api/session", "", `{"key":"mykey1"}`)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, body["id"], body2["id"])

	_, err := store.GetUserByKey(context.Background(), "mykey1")
	assert.NoError(t, err)
}

func TestCreateSessionRejectsBadKeys(t *testing.T) {
	app, _ := newTestApp(t)

	for _, key := range []string{"has space", "uh-oh!", "waytoolongkey"} {
		resp, _ := request(t, app, http.MethodPost, "/api/session", "", fmt.Sprintf(`{"key":%q}`, key))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, key)
	}
}

func TestRequireUser(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := request(t, app, http.MethodGet, "/api/feeds", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = request(t, app, http.MethodGet, "/api/feeds", "nosuchkey", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFeedAndArticleFlow(t *testing.T) {
	app, store := newTestApp(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedDoc))
	}))
	defer srv.Close()

	user, err := store.GetOrCreateUser(context.Background(), "flowtest")
	require.NoError(t, err)

	// Subscribe; the initial refresh runs synchronously
	resp, body := request(t, app, http.MethodPost, "/api/feeds", user.Key,
		fmt.Sprintf(`{"url":%q,"labels":["Tech"]}`, srv.URL))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 2, body["new"])

	feed, _ := body["feed"].(map[string]any)
	require.NotNil(t, feed)
	assert.Equal(t, "Test Feed", feed["title"])
	assert.EqualValues(t, 2, feed["articleCount"])
	feedID := int64(feed["id"].(float64))

	// A manual refresh of an unchanged document finds nothing new
	resp, body = request(t, app, http.MethodPost, fmt.Sprintf("/api/feeds/%d/refresh", feedID), user.Key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["new"])

	// Articles are listed newest first with pagination metadata
	resp, body = request(t, app, http.MethodGet, "/api/articles", user.Key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["totalCount"])
	articles, _ := body["articles"].([]any)
	require.Len(t, articles, 2)
	articleID := int64(articles[0].(map[string]any)["id"].(float64))

	// Mark read, then it disappears from the unread view
	resp, _ = request(t, app, http.MethodPost, fmt.Sprintf("/api/articles/%d/read", articleID), user.Key, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = request(t, app, http.MethodGet, "/api/articles?hide_read=true", user.Key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["totalCount"])

	resp, _ = request(t, app, http.MethodDelete, fmt.Sprintf("/api/articles/%d/read", articleID), user.Key, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Labels were normalized at subscription time
	req := httptest.NewRequest(http.MethodGet, "/api/labels", nil)
	req.Header.Set("X-User-Key", user.Key)
	labelResp, err := app.Test(req, -1)
	require.NoError(t, err)
	var labels []string
	require.NoError(t, json.NewDecoder(labelResp.Body).Decode(&labels))
	assert.Equal(t, []string{"tech"}, labels)

	// Unsubscribe cascades
	resp, _ = request(t, app, http.MethodDelete, fmt.Sprintf("/api/feeds/%d", feedID), user.Key, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = request(t, app, http.MethodGet, "/api/articles", user.Key, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAddFeedWithBrokenURLStillSubscribes(t *testing.T) {
	app, store := newTestApp(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Refuses connections

	user, err := store.GetOrCreateUser(context.Background(), "brokentest")
	require.NoError(t, err)

	resp, body := request(t, app, http.MethodPost, "/api/feeds", user.Key,
		fmt.Sprintf(`{"url":%q}`, srv.URL))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["warning"], "subscription survives a failed initial refresh")

	feeds, err := store.ListUserFeeds(context.Background(), user.Id)
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}

func TestRefreshFeedErrors(t *testing.T) {
	app, store := newTestApp(t)

	user, err := store.GetOrCreateUser(context.Background(), "errtest")
	require.NoError(t, err)

	// Unknown feed
	resp, _ := request(t, app, http.MethodPost, "/api/feeds/999/refresh", user.Key, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Upstream serves garbage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a feed"))
	}))
	defer srv.Close()

	feed, err := store.CreateFeed(context.Background(), user.Id, srv.URL, nil)
	require.NoError(t, err)

	resp, body := request(t, app, http.MethodPost, fmt.Sprintf("/api/feeds/%d/refresh", feed.Id), user.Key, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestFeedOwnership(t *testing.T) {
	app, store := newTestApp(t)

	owner, err := store.GetOrCreateUser(context.Background(), "owner")
	require.NoError(t, err)
	other, err := store.GetOrCreateUser(context.Background(), "other")
	require.NoError(t, err)

	feed, err := store.CreateFeed(context.Background(), owner.Id, "https://example.com/feed", nil)
	require.NoError(t, err)

	// Another user's feed looks like it does not exist
	resp, _ := request(t, app, http.MethodDelete, fmt.Sprintf("/api/feeds/%d", feed.Id), other.Key, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	feeds, err := store.ListUserFeeds(context.Background(), owner.Id)
	require.NoError(t, err)
	assert.Len(t, feeds, 1)
}
