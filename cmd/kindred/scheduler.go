package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kindred-org/kindred/pkg/cmd"
	"github.com/kindred-org/kindred/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func schedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Run due scheduled automations on the --scheduler-cron spec until stopped",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withRuntime(ctx, command, "scheduler", func(ctx context.Context, logger *slog.Logger, rt *cmd.Runtime) error {
				loop, err := scheduler.NewLoop(logger, rt.Scheduler, rt.Config.SchedulerCron)
				if err != nil {
					return err
				}

				err = loop.Start(ctx)
				if err != nil {
					return err
				}

				// Runs may suspend; in-memory timers need this process to stay up.
				err = rt.ConsumeDelays(ctx)

				loop.Stop(context.WithoutCancel(ctx))

				return err
			})
		},
	}
}

func processDueCommand() *cli.Command {
	return &cli.Command{
		Name:  "process-due",
		Usage: "Run one pass over due scheduled automations and print the summary",
		Flags: []cli.Flag{
			&cli.TimestampFlag{
				Name:  "now",
				Usage: "Evaluate as of this time (RFC 3339)",
				Config: cli.TimestampConfig{
					Layouts: []string{time.RFC3339},
				},
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			now := time.Now().UTC()
			if command.IsSet("now") {
				now = command.Timestamp("now").UTC()
			}

			return withRuntime(ctx, command, "scheduler", func(ctx context.Context, _ *slog.Logger, rt *cmd.Runtime) error {
				summary, err := rt.Scheduler.ProcessDue(ctx, now)
				if err != nil {
					return err
				}

				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")

				err = encoder.Encode(summary)
				if err != nil {
					return fmt.Errorf("failed to print summary: %w", err)
				}

				if summary.Failed > 0 {
					return cli.Exit("", 2)
				}

				return nil
			})
		},
	}
}
