package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/allisson/mqingest/cmd/app/commands"
	"github.com/allisson/mqingest/internal/app"
	"github.com/allisson/mqingest/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "ingest",
			Usage: "Drain the ingest queue into the message store",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "once",
					Value: false,
					Usage: "Run a single pass and exit",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				gin.SetMode(cfg.GetGinMode())

				container := app.NewContainer(cfg)
				logger := container.Logger()
				logger.Info("starting ingest", slog.String("version", version), slog.String("queue", cfg.IngestQueueName))
				defer commands.CloseContainer(container, logger)

				job, err := container.IngestJob()
				if err != nil {
					return fmt.Errorf("failed to initialize ingest job: %w", err)
				}

				ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer cancel()

				opts := commands.IngestOptions{
					Once:            cmd.Bool("once"),
					Interval:        cfg.IngestInterval,
					ReapInterval:    cfg.PoolReapInterval,
					ShutdownTimeout: cfg.DBConnMaxLifetime,
					Format:          cmd.String("format"),
				}
				if opts.Once {
					return commands.RunIngest(ctx, job, nil, nil, logger, os.Stdout, opts)
				}

				pool, err := container.BrokerPool()
				if err != nil {
					return fmt.Errorf("failed to initialize broker pool: %w", err)
				}
				server, err := container.OpsServer()
				if err != nil {
					return fmt.Errorf("failed to initialize ops server: %w", err)
				}

				return commands.RunIngest(ctx, job, pool, server, logger, os.Stdout, opts)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunMigrations(container.Logger(), cfg.DBDriver, cfg.DBConnectionString)
			},
		},
	}
}
