package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh all feeds of a user from the command line",
		Description: `Refreshes every feed of the given user and prints the
		per-feed outcome as a JSON object: feed id mapped to the number of
		new articles, or to an error description for feeds that failed.

		Log messages go to stderr so the output can be piped to jq.`,
		Flags: append(configFlags(),
			&cli.StringFlag{
				Name:     "key",
				Aliases:  []string{"k"},
				Usage:    "User key to refresh feeds for",
				Required: true,
				EnvVars:  []string{"READER_USER_KEY"},
			},
		),
		Action: func(ctx *cli.Context) error {
			// Keep stdout clean for the JSON result
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			store, err := db.NewStore(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.GetUserByKey(ctx.Context, ctx.String("key"))
			if err != nil {
				return fmt.Errorf("unknown user key %q", ctx.String("key"))
			}

			engine := ingest.NewEngine(store, cfg)
			results := engine.RefreshAll(ctx.Context, user.Id)

			out, err := json.Marshal(results)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
