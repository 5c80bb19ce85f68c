package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/agenciapixel/connectflow/pkg/cmd"
	"github.com/agenciapixel/connectflow/pkg/log"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "connectflow-api",
		Usage:                 "Author, publish and run contact flows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (postgres://... or 'memory')",
				Value:   "memory",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Optional Redis URL for the wake queue",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-channel",
				Usage:   "Inbound event channel (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_CHANNEL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing ConnectFlow API")

			persistence := cmd.NewPersistence(ctx, logger,
				command.String("database-url"), command.String("redis-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			publisher, subscriber := cmd.NewChannel(command.String("event-channel"), logger, "connectflow-api")

			api := NewAPI(logger, persistence, publisher, subscriber)

			return api.Start(ctx, int(command.Int("port")))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
