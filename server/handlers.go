package server

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/AlecRosenbaum/eink-rss-reader/config"
	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/fetcher"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"
	"github.com/AlecRosenbaum/eink-rss-reader/models"
	"github.com/AlecRosenbaum/eink-rss-reader/parser"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

const (
	userKeyCookie = "key"
	userKeyHeader = "X-User-Key"

	// Keep user-facing fetch/parse errors short
	maxErrorLength = 200
)

var keyPattern = regexp.MustCompile(`^[a-z0-9]+$`)

type handlers struct {
	store  *db.Store
	engine *ingest.Engine
	cfg    config.Config
}

type sessionRequest struct {
	Key string `json:"key"`
}

// createSession resolves or creates a user from a key and sets the session
// cookie. An empty key means "generate one for me".
func (h *handlers) createSession(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var (
		user models.User
		err  error
	)

	req.Key = strings.ToLower(strings.TrimSpace(req.Key))
	if req.Key == "" {
		user, err = h.store.CreateUser(c.Context(), models.GenerateUserKey(h.cfg.UserKeyLength))
	} else {
		if !validKey(req.Key, h.cfg.UserKeyLength) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "key must be alphanumeric and at most " + strconv.Itoa(h.cfg.UserKeyLength) + " characters",
			})
		}
		user, err = h.store.GetOrCreateUser(c.Context(), req.Key)
	}
	if err != nil {
		log.WithError(err).Error("Error creating session")
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	c.Cookie(&fiber.Cookie{
		Name:     userKeyCookie,
		Value:    user.Key,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.JSON(user)
}

// requireUser resolves the session user and stores it in locals.
func (h *handlers) requireUser(c *fiber.Ctx) error {
	key := c.Cookies(userKeyCookie)
	if key == "" {
		key = c.Get(userKeyHeader)
	}
	if key == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "no user key"})
	}

	user, err := h.store.GetUserByKey(c.Context(), key)
	if errors.Is(err, db.ErrNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unknown user key"})
	}
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	c.Locals("user", user)
	return c.Next()
}

func currentUser(c *fiber.Ctx) models.User {
	return c.Locals("user").(models.User)
}

func (h *handlers) listFeeds(c *fiber.Ctx) error {
	feeds, err := h.store.ListUserFeeds(c.Context(), currentUser(c).Id)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(feeds)
}

type addFeedRequest struct {
	Url    string   `json:"url"`
	Labels []string `json:"labels"`
}

// addFeed subscribes the user and performs an initial synchronous refresh.
// A fetch/parse failure does not undo the subscription; it is reported as a
// truncated warning next to the created feed.
func (h *handlers) addFeed(c *fiber.Ctx) error {
	var req addFeedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Url == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "url is required"})
	}

	feed, err := h.store.CreateFeed(c.Context(), currentUser(c).Id, req.Url, req.Labels)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "feed already exists or could not be created"})
	}

	response := fiber.Map{}
	newCount, err := h.engine.RefreshFeed(c.Context(), feed.Id)
	if err != nil {
		response["warning"] = truncateError(err)
	} else {
		response["new"] = newCount
	}

	// Re-read to pick up the title and article count from the refresh
	if refreshed, err := h.store.GetFeed(c.Context(), feed.Id); err == nil {
		feed = refreshed
	}
	response["feed"] = feed

	return c.Status(fiber.StatusCreated).JSON(response)
}

func (h *handlers) deleteFeed(c *fiber.Ctx) error {
	feed, ok := h.ownedFeed(c)
	if !ok {
		return nil
	}

	if _, err := h.store.DeleteFeed(c.Context(), feed.Id); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type labelsRequest struct {
	Labels []string `json:"labels"`
}

func (h *handlers) updateFeedLabels(c *fiber.Ctx) error {
	feed, ok := h.ownedFeed(c)
	if !ok {
		return nil
	}

	var req labelsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.store.SetFeedLabels(c.Context(), feed.Id, req.Labels); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	updated, err := h.store.GetFeed(c.Context(), feed.Id)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(updated)
}

func (h *handlers) refreshFeed(c *fiber.Ctx) error {
	feed, ok := h.ownedFeed(c)
	if !ok {
		return nil
	}

	newCount, err := h.engine.RefreshFeed(c.Context(), feed.Id)
	if err != nil {
		var fetchErr *fetcher.FetchError
		var parseErr *parser.ParseError
		if errors.Is(err, ingest.ErrFeedNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "feed not found"})
		}
		if errors.As(err, &fetchErr) || errors.As(err, &parseErr) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": truncateError(err)})
		}
		log.WithField("feed", feed.Id).WithError(err).Error("Error refreshing feed")
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	return c.JSON(fiber.Map{"new": newCount})
}

func (h *handlers) refreshAll(c *fiber.Ctx) error {
	return c.JSON(h.engine.RefreshAll(c.Context(), currentUser(c).Id))
}

func (h *handlers) listArticles(c *fiber.Ctx) error {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	hideRead := c.QueryBool("hide_read", false)
	label := c.Query("label", "")

	articles, err := h.store.ListArticles(c.Context(), currentUser(c).Id, page, h.cfg.ArticlesPerPage, hideRead, label)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(articles)
}

func (h *handlers) getArticle(c *fiber.Ctx) error {
	articleID, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid article id"})
	}

	article, err := h.store.GetArticle(c.Context(), articleID, currentUser(c).Id)
	if errors.Is(err, db.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "article not found"})
	}
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(article)
}

func (h *handlers) markRead(c *fiber.Ctx) error {
	article, ok := h.ownedArticle(c)
	if !ok {
		return nil
	}
	if err := h.store.MarkRead(c.Context(), currentUser(c).Id, article.Id); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) markUnread(c *fiber.Ctx) error {
	article, ok := h.ownedArticle(c)
	if !ok {
		return nil
	}
	if err := h.store.MarkUnread(c.Context(), currentUser(c).Id, article.Id); err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) listLabels(c *fiber.Ctx) error {
	labels, err := h.store.ListUserLabels(c.Context(), currentUser(c).Id)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	return c.JSON(labels)
}

// ownedFeed loads the :id feed and checks it belongs to the session user.
// Writes the error response itself and returns ok == false when it does not.
func (h *handlers) ownedFeed(c *fiber.Ctx) (models.Feed, bool) {
	feedID, err := parseID(c)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid feed id"})
		return models.Feed{}, false
	}

	feed, err := h.store.GetFeed(c.Context(), feedID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && feed.UserId != currentUser(c).Id) {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "feed not found"})
		return models.Feed{}, false
	}
	if err != nil {
		_ = c.SendStatus(fiber.StatusInternalServerError)
		return models.Feed{}, false
	}

	return feed, true
}

func (h *handlers) ownedArticle(c *fiber.Ctx) (models.Article, bool) {
	articleID, err := parseID(c)
	if err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid article id"})
		return models.Article{}, false
	}

	article, err := h.store.GetArticle(c.Context(), articleID, currentUser(c).Id)
	if errors.Is(err, db.ErrNotFound) {
		_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "article not found"})
		return models.Article{}, false
	}
	if err != nil {
		_ = c.SendStatus(fiber.StatusInternalServerError)
		return models.Article{}, false
	}

	return article, true
}

func parseID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func validKey(key string, maxLength int) bool {
	return len(key) > 0 && len(key) <= maxLength && keyPattern.MatchString(key)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}
