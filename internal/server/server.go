package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agrolend/agrolend/internal/config"
	"github.com/agrolend/agrolend/internal/routes"
)

// Server wraps the Fiber application, shared dependencies and background jobs.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
	logger   *slog.Logger
}

// New instantiates the HTTP server and delegates wiring to routes.Build and routes.Setup.
func New(ctx context.Context, cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}
	services, err := routes.Build(ctx, deps)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: !cfg.IsDev(),
		ErrorHandler:          errorHandler(logger),
	})
	routes.Setup(app, deps, services)

	return &Server{app: app, cfg: cfg, services: services, logger: logger}, nil
}

// errorHandler renders every error as {"error": message}.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the background jobs and the HTTP server.
func (s *Server) Listen() error {
	s.services.Runner.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then stops the scheduler and pending payouts.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.services.Runner.Stop(ctx)
	s.services.Simulator.Stop()
	if _, drainErr := s.services.Outbox.Drain(ctx, s.cfg.OutboxBatch); drainErr != nil {
		s.logger.Warn("final outbox drain failed", slog.Any("error", drainErr))
	}
	return err
}
