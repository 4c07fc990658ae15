package main

import (
	"context"
	"log/slog"

	"github.com/kindred-org/kindred/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:    "worker",
		Aliases: []string{"w"},
		Usage:   "Consume domain events and delayed tasks",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withRuntime(ctx, command, "worker", func(ctx context.Context, logger *slog.Logger, rt *cmd.Runtime) error {
				logger.InfoContext(ctx, "Initializing Kindred worker",
					"event_bus", rt.Config.EventBus,
					"delay_backend", rt.Config.DelayBackend,
				)

				err := rt.SubscribeDomainEvents(ctx)
				if err != nil {
					return err
				}

				return rt.ConsumeDelays(ctx)
			})
		},
	}
}
