package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/mqingest/cmd/app/commands"
	"github.com/allisson/mqingest/internal/app"
	"github.com/allisson/mqingest/internal/config"
	messageDomain "github.com/allisson/mqingest/internal/message/domain"
)

func getMessageCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "list-messages",
			Usage: "List stored messages",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "status",
					Aliases: []string{"s"},
					Usage:   "Filter by status (RECEIVED, PROCESSED, FAILED, BACKOUT)",
				},
				&cli.StringFlag{
					Name:    "queue",
					Aliases: []string{"q"},
					Usage:   "Filter by source queue",
				},
				&cli.IntFlag{
					Name:  "offset",
					Value: 0,
					Usage: "Number of messages to skip",
				},
				&cli.IntFlag{
					Name:  "limit",
					Value: 0,
					Usage: "Maximum number of messages (default 50, max 1000)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				logger := container.Logger()
				defer commands.CloseContainer(container, logger)

				useCase, err := container.MessageUseCase()
				if err != nil {
					return fmt.Errorf("failed to initialize message use case: %w", err)
				}

				filter := messageDomain.ListFilter{
					Status:    messageDomain.Status(cmd.String("status")),
					QueueName: cmd.String("queue"),
					Offset:    cmd.Int("offset"),
					Limit:     cmd.Int("limit"),
				}
				return commands.RunListMessages(ctx, useCase, os.Stdout, filter, cmd.String("format"))
			},
		},
		{
			Name:  "get-message",
			Usage: "Show a stored message by broker message id",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "message-id",
					Aliases:  []string{"m"},
					Required: true,
					Usage:    "Broker message id",
				},
				queueFlag(),
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				logger := container.Logger()
				defer commands.CloseContainer(container, logger)

				useCase, err := container.MessageUseCase()
				if err != nil {
					return fmt.Errorf("failed to initialize message use case: %w", err)
				}

				return commands.RunGetMessage(
					ctx,
					useCase,
					os.Stdout,
					cmd.String("message-id"),
					queueOrDefault(cmd, cfg),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "delete-message",
			Usage: "Delete a stored message by id",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "id",
					Aliases:  []string{"i"},
					Required: true,
					Usage:    "Message store id (UUID)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				logger := container.Logger()
				defer commands.CloseContainer(container, logger)

				useCase, err := container.MessageUseCase()
				if err != nil {
					return fmt.Errorf("failed to initialize message use case: %w", err)
				}

				return commands.RunDeleteMessage(ctx, useCase, logger, os.Stdout, cmd.String("id"))
			},
		},
	}
}
