package routes

import (
	"context"
	"database/sql"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/accounts"
	"github.com/zhizuo588/nav-api/internal/config"
	"github.com/zhizuo588/nav-api/internal/metrics"
	"github.com/zhizuo588/nav-api/internal/middleware"
	"github.com/zhizuo588/nav-api/internal/session"
	apperrors "github.com/zhizuo588/nav-api/pkg/errors"
)

// Deps carries the shared clients the route handlers build on.
type Deps struct {
	Postgres     *sql.DB
	Accounts     accounts.Store
	Sessions     session.Store
	DynamoClient *dynamodb.Client
	S3Client     *s3.Client
}

// Setup configures all API routes
func Setup(app *fiber.App, cfg *config.Config, logger *logrus.Logger, mgr *middleware.Manager, deps Deps) {
	authHandler := NewAuthHandler(deps.Accounts, deps.Sessions, mgr.Limiter, cfg.Auth.SessionValidity, logger)
	websiteHandler := NewWebsiteHandler(deps.Postgres, logger)
	categoryHandler := NewCategoryHandler(deps.Postgres, logger)
	privateHandler := NewPrivateHandler(cfg.Auth.PrivatePassword, mgr.Limiter, logger)
	syncHandler := NewSyncHandler(deps.DynamoClient, cfg.Sync.TableName, logger)
	uploadHandler := NewUploadHandler(deps.S3Client, &cfg.Upload, logger)

	privateGate := newPrivateGate(cfg.Auth.PrivatePassword, mgr.Limiter, logger)
	adminGate := newAdminGate(cfg.Auth.AdminPassword, mgr.Limiter, logger)

	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(mgr, deps.Postgres))
	app.Get("/version", versionHandler)

	// Metrics endpoint (no auth required)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	api := app.Group("/api")
	api.Use(metrics.HTTPMetricsMiddleware())

	// Auth routes (public endpoints)
	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/logout", authHandler.Logout)

	// Website catalogue: reads are public, writes are guarded
	websiteRoutes := api.Group("/websites")
	websiteRoutes.Get("/read", websiteHandler.Read)
	websiteRoutes.Post("/add", mgr.Guard.RequireSession(), websiteHandler.Add)
	websiteRoutes.Post("/update", adminGate.Handle(), websiteHandler.Update)
	websiteRoutes.Post("/delete", adminGate.Handle(), websiteHandler.Delete)

	// Category maintenance behind the private-category password
	categoryRoutes := api.Group("/categories", privateGate.Handle())
	categoryRoutes.Post("/create", categoryHandler.Create)
	categoryRoutes.Post("/rename", categoryHandler.Rename)
	categoryRoutes.Post("/delete", categoryHandler.Delete)

	api.Post("/private/verify", privateHandler.Verify)

	// Per-account client state, session required
	syncRoutes := api.Group("/sync", mgr.Guard.RequireSession())
	syncRoutes.Get("/read", syncHandler.Read)
	syncRoutes.Post("/save", syncHandler.Save)

	api.Post("/upload/image", adminGate.Handle(), uploadHandler.Image)

	// 404 handler
	app.Use(notFoundHandler)
}

// healthCheck returns the health status of the service
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "nav-api",
	})
}

// readinessCheck checks if the service is ready to accept traffic
func readinessCheck(mgr *middleware.Manager, pg *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := pg.PingContext(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":    "not ready",
				"reason":    "postgres unavailable",
				"error":     err.Error(),
				"timestamp": time.Now().UTC(),
			})
		}

		redisHealthCheck := middleware.RedisHealthCheck(mgr.RedisClient, mgr.Logger)
		if err := redisHealthCheck(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":    "not ready",
				"reason":    "redis unavailable",
				"error":     err.Error(),
				"timestamp": time.Now().UTC(),
			})
		}

		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   "nav-api",
		})
	}
}

// versionHandler returns version information
func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "nav-api",
		"version": Version,
		"commit":  Commit,
		"built":   BuildTime,
	})
}

// notFoundHandler handles 404 errors
func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    apperrors.CodeNotFound,
			"message": "The requested resource was not found",
			"path":    c.Path(),
		},
	})
}

// Set at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
