package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/zhizuo588/nav-api/internal/accounts"
	"github.com/zhizuo588/nav-api/internal/config"
	"github.com/zhizuo588/nav-api/internal/db"
	"github.com/zhizuo588/nav-api/internal/logging"
	"github.com/zhizuo588/nav-api/internal/metrics"
	"github.com/zhizuo588/nav-api/internal/middleware"
	"github.com/zhizuo588/nav-api/internal/routes"
	"github.com/zhizuo588/nav-api/internal/session"
	apperrors "github.com/zhizuo588/nav-api/pkg/errors"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logging.New(cfg)

	// Initialize metrics
	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	// Initialize tracing
	tracingShutdown, err := middleware.InitTracing(&cfg.Observability, routes.Version, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	// Connect to Postgres and migrate
	ctx := context.Background()
	pg, err := db.Open(ctx, &cfg.Postgres, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer pg.Close()

	if cfg.Postgres.MigrateOnStart {
		if err := db.Migrate(ctx, pg, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply migrations")
		}
	}

	accountStore := accounts.NewSQLStore(pg, logger)
	sessionStore := session.NewSQLStore(pg, logger)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Nav API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				code = appErr.HTTPStatus()
			} else if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			logger.WithError(err).WithFields(logrus.Fields{
				"method":     c.Method(),
				"path":       c.Path(),
				"status":     code,
				"error_code": apperrors.CodeForStatus(code),
			}).Error("Request error")

			return c.Status(code).JSON(fiber.Map{
				"error": "服务器错误",
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		MaxAge:       86400,
	}))
	app.Use(otelfiber.Middleware())

	errorLogger := middleware.NewErrorLoggerMiddleware(logger)
	app.Use(errorLogger.Handle())

	// Initialize middleware manager (Redis, rate limiter, session guard)
	middlewareManager, err := middleware.NewManager(cfg, logger, sessionStore)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer middlewareManager.Close()

	// AWS clients for sync storage and image uploads
	dynamoClient, s3Client, err := initializeAWSClients(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize AWS clients")
	}

	// Setup routes
	routes.Setup(app, cfg, logger, middlewareManager, routes.Deps{
		Postgres:     pg,
		Accounts:     accountStore,
		Sessions:     sessionStore,
		DynamoClient: dynamoClient,
		S3Client:     s3Client,
	})

	// Periodic cleanup of expired session rows
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepSessions(sweepCtx, sessionStore, cfg.Auth.SweepInterval)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Gracefully shutting down...")
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logger.WithField("port", cfg.Server.Port).Info("Starting Nav API server")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}

// sweepSessions periodically deletes expired session rows. Validation
// already rejects expired sessions; this just keeps the table small.
func sweepSessions(ctx context.Context, store session.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.SweepExpired(ctx)
		}
	}
}

func initializeAWSClients(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, *s3.Client, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error

	if cfg.AWS.Profile != "" {
		// Use specific profile for local development
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Sync.Region),
			awsconfig.WithSharedConfigProfile(cfg.AWS.Profile),
		)
	} else {
		// IRSA in Kubernetes: the SDK picks up the web identity token
		// from the environment.
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Sync.Region),
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	logger.WithFields(logrus.Fields{
		"region":     cfg.Sync.Region,
		"table_name": cfg.Sync.TableName,
	}).Info("DynamoDB client initialized")

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Upload.Endpoint != "" {
			// R2-compatible endpoint
			o.BaseEndpoint = aws.String(cfg.Upload.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.WithField("bucket", cfg.Upload.Bucket).Info("Object storage client initialized")

	return dynamoClient, s3Client, nil
}
