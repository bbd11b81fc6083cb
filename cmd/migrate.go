package cmd

import (
	"github.com/AlecRosenbaum/eink-rss-reader/db"

	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Creates or upgrades the SQLite database schema and exits.`,
		Flags:       configFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			return db.Migrate(cfg.DatabasePath())
		},
	}
}
