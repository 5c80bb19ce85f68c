package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/agenciapixel/connectflow/pkg/cmd"
	"github.com/agenciapixel/connectflow/pkg/engine"
	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/log"
)

const webhookTimeout = 30 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "connectflow-worker",
		Usage:                 "Run the flow engine: wake polling and inbound event routing",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_CHANNEL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between due-wake polls",
				Value:   time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing ConnectFlow worker")

			persistence := cmd.NewPersistence(ctx, logger,
				command.String("database-url"), command.String("redis-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			publisher, subscriber := cmd.NewChannel(command.String("event-channel"), logger, "connectflow-worker")

			dispatcher := gateway.NewDispatcher(logger,
				gateway.NoopSender{},
				gateway.NewRestyCaller(webhookTimeout),
				gateway.NewLoggingTagger(logger),
				gateway.NewLoggingNotifier(logger),
			)

			eng := engine.New(engine.Config{
				Persistence:  persistence,
				Gateway:      dispatcher,
				Publisher:    publisher,
				Subscriber:   subscriber,
				Logger:       logger,
				WorkerID:     workerID,
				PollInterval: command.Duration("poll-interval"),
			})

			if err := eng.Start(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Worker started successfully")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan

			logger.InfoContext(ctx, "Shutting down worker")

			return eng.Stop(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
