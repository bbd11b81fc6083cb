package cmd

import (
	"os"

	"github.com/AlecRosenbaum/eink-rss-reader/config"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func RootApp() *cli.App {
	return &cli.App{
		Name:  "eink-rss-reader",
		Usage: "A personal RSS/Atom feed reader",
		Description: `A personal RSS/Atom feed reader built for e-ink devices.

		Users register with a short opaque key, subscribe to feeds and read
		paginated, deduplicated articles with read/unread tracking and
		label-based filtering. A background scheduler refreshes subscribed
		feeds and prunes old articles.

		Flags can generally be set via environment variables, e.g.:

		--data-dir => READER_DATA_DIR=/var/lib/reader
		--port => READER_PORT=8080
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			cleanupCmd(),
			refreshCmd(),
			userCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func configFlags() []cli.Flag {
	defaults := config.Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a TOML configuration file",
			EnvVars: []string{"READER_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Value:   defaults.DataDir,
			Usage:   "Directory holding the SQLite database",
			EnvVars: []string{"READER_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "app-name",
			Value:   defaults.AppName,
			Usage:   "Application name reported by the server",
			EnvVars: []string{"READER_APP_NAME"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{"READER_DEBUG"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   defaults.Port,
			Usage:   "Port for the HTTP server",
			EnvVars: []string{"READER_PORT"},
		},
		&cli.IntFlag{
			Name:    "articles-per-page",
			Value:   defaults.ArticlesPerPage,
			Usage:   "Articles per page in listings",
			EnvVars: []string{"READER_ARTICLES_PER_PAGE"},
		},
		&cli.IntFlag{
			Name:    "article-retention-days",
			Value:   defaults.ArticleRetentionDays,
			Usage:   "Days to keep articles before cleanup",
			EnvVars: []string{"READER_ARTICLE_RETENTION_DAYS"},
		},
		&cli.IntFlag{
			Name:    "refresh-interval-seconds",
			Value:   defaults.RefreshIntervalSeconds,
			Usage:   "Seconds between scheduled feed refreshes",
			EnvVars: []string{"READER_REFRESH_INTERVAL_SECONDS"},
		},
		&cli.IntFlag{
			Name:    "max-article-content-length",
			Value:   defaults.MaxArticleContentLength,
			Usage:   "Maximum stored article content length in characters",
			EnvVars: []string{"READER_MAX_ARTICLE_CONTENT_LENGTH"},
		},
		&cli.IntFlag{
			Name:    "user-key-length",
			Value:   defaults.UserKeyLength,
			Usage:   "Length of generated user keys",
			EnvVars: []string{"READER_USER_KEY_LENGTH"},
		},
	}
}

// loadConfig builds the runtime configuration: defaults, then the optional
// TOML file, then flag/environment overrides on top.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()

	if path := ctx.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if ctx.IsSet("data-dir") {
		cfg.DataDir = ctx.String("data-dir")
	}
	if ctx.IsSet("app-name") {
		cfg.AppName = ctx.String("app-name")
	}
	if ctx.IsSet("debug") {
		cfg.Debug = ctx.Bool("debug")
	}
	if ctx.IsSet("port") {
		cfg.Port = ctx.Int("port")
	}
	if ctx.IsSet("articles-per-page") {
		cfg.ArticlesPerPage = ctx.Int("articles-per-page")
	}
	if ctx.IsSet("article-retention-days") {
		cfg.ArticleRetentionDays = ctx.Int("article-retention-days")
	}
	if ctx.IsSet("refresh-interval-seconds") {
		cfg.RefreshIntervalSeconds = ctx.Int("refresh-interval-seconds")
	}
	if ctx.IsSet("max-article-content-length") {
		cfg.MaxArticleContentLength = ctx.Int("max-article-content-length")
	}
	if ctx.IsSet("user-key-length") {
		cfg.UserKeyLength = ctx.Int("user-key-length")
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	return cfg, nil
}
