package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"
	"github.com/AlecRosenbaum/eink-rss-reader/scheduler"
	"github.com/AlecRosenbaum/eink-rss-reader/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the feed reader",
		Description: `Starts the HTTP server and the background scheduler.

		The scheduler refreshes every user's feeds on a fixed interval and
		prunes articles older than the retention window once a day. Manual
		refreshes triggered over the API run against the same engine.`,
		Flags: configFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			if err := db.Migrate(cfg.DatabasePath()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			store, err := db.NewStore(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			engine := ingest.NewEngine(store, cfg)

			sched := scheduler.New(engine, store, cfg)
			if err := sched.Start(); err != nil {
				return err
			}

			app := server.Server(server.ServerConfig{
				Store:  store,
				Engine: engine,
				Config: cfg,
			})

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-c
				log.Info("Gracefully shutting down...")
				sched.Stop()
				if err := app.ShutdownWithTimeout(60 * time.Second); err != nil {
					log.WithError(err).Error("Error shutting down server")
				}
			}()

			log.WithField("port", cfg.Port).Info("Starting server")
			if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
				return err
			}

			return nil
		},
	}
}
