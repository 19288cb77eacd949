// Package api exposes linkage runs over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/TFMV/entlink/config"
	"github.com/TFMV/entlink/internal/run"
	"github.com/TFMV/entlink/logger"
	"github.com/TFMV/entlink/version"
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Port    string
	Prefork bool
}

// Server holds the Fiber app instance.
type Server struct {
	app  *fiber.App
	port string
}

// NewServer initializes a new Fiber instance.
func NewServer(opts ServerOptions) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:  10 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // linkage runs can take a while
		Prefork:      opts.Prefork,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "entlink API",
			"version": version.Version,
			"build":   version.BuildDate,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	app.Post("/link", handleLink)

	port := opts.Port
	if port == "" {
		port = "3000"
	}
	return &Server{app: app, port: port}
}

// handleLink runs one linkage described by the request body and returns its
// report.
func handleLink(c *fiber.Ctx) error {
	var cfg config.Config
	if err := c.BodyParser(&cfg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	rep, err := run.Run(c.Context(), &cfg)
	if err != nil {
		logger.GetLogger().Error("link request failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(rep)
}

// Start runs the Fiber server; it blocks until the listener stops.
func (s *Server) Start() error {
	logger.GetLogger().Info("entlink API listening", zap.String("port", s.port))
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithContext stops the server, honoring the context deadline.
func (s *Server) ShutdownWithContext(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
