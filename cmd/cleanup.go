package cmd

import (
	"fmt"

	"github.com/AlecRosenbaum/eink-rss-reader/db"

	"github.com/urfave/cli/v2"
)

func cleanupCmd() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete articles past the retention window",
		Description: `Deletes every article whose fetch time is older than the
		configured retention period. The scheduler does this daily; this
		command exists for manual maintenance.`,
		Flags: configFlags(),
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			store, err := db.NewStore(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.CleanupOldArticles(ctx.Context, cfg.ArticleRetentionDays)
			if err != nil {
				return err
			}

			fmt.Printf("Deleted %d article(s)\n", deleted)
			return nil
		},
	}
}
