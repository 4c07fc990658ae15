package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

var errSeedFileRequired = errors.New("a seed file path is required")

func automationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "automations",
		Aliases: []string{"a"},
		Usage:   "Manage automation definitions",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Create or update automations from a YAML seed file",
				ArgsUsage: "<file>",
				Action: func(ctx context.Context, command *cli.Command) error {
					path := command.Args().First()
					if path == "" {
						return errSeedFileRequired
					}

					return withRuntime(ctx, command, "import", func(ctx context.Context, logger *slog.Logger, rt *cmd.Runtime) error {
						result, err := rt.Automations.ImportFile(ctx, path)
						if err != nil {
							return err
						}

						logger.InfoContext(ctx, "Automations imported",
							"file", path,
							"created", len(result.Created),
							"updated", len(result.Updated),
						)

						return nil
					})
				},
			},
		},
	}
}
