package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/kindred-org/kindred/pkg/cmd"
	"github.com/kindred-org/kindred/pkg/scheduler"
	"github.com/kindred-org/kindred/pkg/web"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "with-scheduler",
				Usage: "Also run the due-automation loop in this process",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "with-worker",
				Usage: "Also consume domain events and delayed tasks in this process",
				Value: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			withScheduler := command.Bool("with-scheduler")
			withWorker := command.Bool("with-worker")

			return withRuntime(ctx, command, "api", func(ctx context.Context, logger *slog.Logger, rt *cmd.Runtime) error {
				logger.InfoContext(ctx, "Initializing Kindred API", "port", rt.Config.Port)

				app := web.NewApp(rt.Handlers(), rt.Metrics)

				g, gctx := errgroup.WithContext(ctx)

				if withScheduler {
					loop, err := scheduler.NewLoop(logger, rt.Scheduler, rt.Config.SchedulerCron)
					if err != nil {
						return err
					}

					err = loop.Start(gctx)
					if err != nil {
						return err
					}

					defer loop.Stop(context.WithoutCancel(ctx))
				}

				if withWorker {
					err := rt.SubscribeDomainEvents(gctx)
					if err != nil {
						return err
					}

					g.Go(func() error { return rt.ConsumeDelays(gctx) })
				}

				g.Go(func() error {
					return app.Listen(":" + strconv.Itoa(rt.Config.Port))
				})

				g.Go(func() error {
					<-gctx.Done()

					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
					defer cancel()

					logger.InfoContext(shutdownCtx, "Shutting down Kindred API")

					return app.ShutdownWithContext(shutdownCtx)
				})

				return g.Wait()
			})
		},
	}
}
