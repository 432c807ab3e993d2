package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/mqingest/cmd/app/commands"
	"github.com/allisson/mqingest/internal/app"
	"github.com/allisson/mqingest/internal/config"
)

func queueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "Source queue name (defaults to INGEST_QUEUE_NAME)",
	}
}

func queueOrDefault(cmd *cli.Command, cfg *config.Config) string {
	if queue := cmd.String("queue"); queue != "" {
		return queue
	}
	return cfg.IngestQueueName
}

func getBackoutCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "backout-stats",
			Usage: "Show the depth of a queue and its backout queue",
			Flags: []cli.Flag{queueFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				logger := container.Logger()
				defer commands.CloseContainer(container, logger)

				useCase, err := container.BackoutUseCase()
				if err != nil {
					return fmt.Errorf("failed to initialize backout use case: %w", err)
				}

				return commands.RunBackoutStats(ctx, useCase, os.Stdout, queueOrDefault(cmd, cfg), cmd.String("format"))
			},
		},
		{
			Name:  "backout-replay",
			Usage: "Move messages from a backout queue back onto its source queue",
			Flags: []cli.Flag{
				queueFlag(),
				&cli.BoolFlag{
					Name:  "all",
					Value: false,
					Usage: "Move every message present when the replay starts",
				},
				&cli.IntFlag{
					Name:    "batch-size",
					Aliases: []string{"n"},
					Value:   0,
					Usage:   "Move at most this many messages (1-100)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				logger := container.Logger()
				defer commands.CloseContainer(container, logger)

				useCase, err := container.BackoutUseCase()
				if err != nil {
					return fmt.Errorf("failed to initialize backout use case: %w", err)
				}

				return commands.RunBackoutReplay(
					ctx,
					useCase,
					logger,
					os.Stdout,
					queueOrDefault(cmd, cfg),
					cmd.Bool("all"),
					cmd.Int("batch-size"),
					cmd.String("format"),
				)
			},
		},
	}
}
