// Package server exposes the reader over a JSON HTTP API. Users are
// identified by their key, carried in a cookie or the X-User-Key header.
package server

import (
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/config"
	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type ServerConfig struct {

	// The shared persistence store
	Store *db.Store

	// The ingestion engine used by the refresh endpoints
	Engine *ingest.Engine

	// Runtime configuration (pagination size, key length, app name)
	Config config.Config
}

// Server sets up the fiber app with all routes and middleware.
func Server(sc ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               sc.Config.AppName,
		DisableStartupMessage: !sc.Config.Debug,
	})

	// Middleware to track latency and log all requests
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"path":    c.Path(),
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start).String(),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	h := &handlers{store: sc.Store, engine: sc.Engine, cfg: sc.Config}

	api := app.Group("/api")
	api.Post("/session", h.createSession)

	api.Use(h.requireUser)

	api.Get("/feeds", h.listFeeds)
	api.Post("/feeds", h.addFeed)
	api.Delete("/feeds/:id", h.deleteFeed)
	api.Put("/feeds/:id/labels", h.updateFeedLabels)
	api.Post("/feeds/:id/refresh", h.refreshFeed)
	api.Post("/refresh", h.refreshAll)

	api.Get("/articles", h.listArticles)
	api.Get("/articles/:id", h.getArticle)
	api.Post("/articles/:id/read", h.markRead)
	api.Delete("/articles/:id/read", h.markUnread)

	api.Get("/labels", h.listLabels)

	return app
}
