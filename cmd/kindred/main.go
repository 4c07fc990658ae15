// Package main is the kindred command: the HTTP API, the scheduler loop, the
// delayed-task worker and one-shot maintenance commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kindred-org/kindred/pkg/cmd"
	"github.com/kindred-org/kindred/pkg/config"
	"github.com/kindred-org/kindred/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "kindred",
		Usage:                 "Run member and donor automations",
		EnableShellCompletion: true,
		Flags:                 config.Flags(),
		Commands: []*cli.Command{
			serveCommand(),
			schedulerCommand(),
			processDueCommand(),
			workerCommand(),
			automationsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// withRuntime resolves the configuration, builds the runtime and closes it after fn.
func withRuntime(
	ctx context.Context,
	command *cli.Command,
	module string,
	fn func(ctx context.Context, logger *slog.Logger, rt *cmd.Runtime) error,
) error {
	cfg, err := config.FromCommand(command)
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)

	logger := log.WithModule(module)

	rt, err := cmd.NewRuntime(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize kindred: %w", err)
	}

	defer func() {
		err := rt.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	return fn(ctx, logger, rt)
}
