package cmd

import (
	"fmt"

	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/models"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

func userCmd() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a user",
				Description: `Creates a user identified by a short lowercase
				alphanumeric key. Without --key or --random the key is asked
				for interactively.`,
				Flags: append(configFlags(),
					&cli.StringFlag{
						Name:    "key",
						Aliases: []string{"k"},
						Usage:   "Key for the new user",
					},
					&cli.BoolFlag{
						Name:    "random",
						Aliases: []string{"r"},
						Usage:   "Generate a random key",
					},
				),
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(ctx)
					if err != nil {
						return err
					}

					key := ctx.String("key")
					if key == "" && ctx.Bool("random") {
						key = models.GenerateUserKey(cfg.UserKeyLength)
					}
					if key == "" {
						key, err = prompt.New().Ask("Key:").Input(models.GenerateUserKey(cfg.UserKeyLength))
						if err != nil {
							return err
						}
					}

					store, err := db.NewStore(cfg.DatabasePath())
					if err != nil {
						return err
					}
					defer store.Close()

					user, err := store.CreateUser(ctx.Context, key)
					if err != nil {
						return err
					}

					fmt.Printf("Created user %d with key %q\n", user.Id, user.Key)
					return nil
				},
			},
		},
	}
}
