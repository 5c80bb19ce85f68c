// Package main provides the ConnectFlow API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/agenciapixel/connectflow/pkg/engine"
	"github.com/agenciapixel/connectflow/pkg/gateway"
	"github.com/agenciapixel/connectflow/pkg/persistence"
	"github.com/agenciapixel/connectflow/pkg/web"
)

const webhookTimeout = 30 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	publisher message.Publisher,
	subscriber message.Subscriber,
) *API {
	dispatcher := gateway.NewDispatcher(logger,
		gateway.NoopSender{},
		gateway.NewRestyCaller(webhookTimeout),
		gateway.NewLoggingTagger(logger),
		gateway.NewLoggingNotifier(logger),
	)

	eng := engine.New(engine.Config{
		Persistence: p,
		Gateway:     dispatcher,
		Publisher:   publisher,
		Subscriber:  subscriber,
		Logger:      logger,
	})

	return &API{
		logger:      logger,
		persistence: p,
		engine:      eng,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("ConnectFlow API")
	})

	handlers.Register(app)

	return app
}

// Start brings the engine up (wake polling, event subscription,
// correlation rehydration) and serves HTTP until the listener stops.
func (a *API) Start(ctx context.Context, port int) error {
	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := a.engine.Stop(ctx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to stop engine", "error", err)
		}
	}()

	return a.App().Listen(":" + strconv.Itoa(port))
}
