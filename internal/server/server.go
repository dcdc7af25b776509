// Package server contains the HTTP handlers for the moderation API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fanvault/internal/bootstrap"
	"fanvault/internal/cache"
	"fanvault/internal/config"
	"fanvault/internal/middleware"
	"fanvault/internal/models"
	"fanvault/internal/notifications"
	"fanvault/internal/repository"
	"fanvault/internal/service"
	"fanvault/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const defaultStagingURLPrefix = "/api/admin/staging"

// Server wires the moderation services to HTTP.
type Server struct {
	config         *config.Config
	app            *fiber.App
	db             *gorm.DB
	redis          *redis.Client
	promMiddleware *fiberprometheus.FiberPrometheus
	runtime        *bootstrap.Runtime

	staging   *storage.StagingStore
	store     storage.ObjectStore
	notifier  *notifications.Notifier
	assetRepo repository.AssetRepository

	intakeService    *service.IntakeService
	reviewService    *service.ReviewService
	retentionService *service.RetentionService
	queryService     *service.QueryService
}

// NewServer connects all infrastructure from cfg and builds a Server.
func NewServer(cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	s, err := NewServerWithDeps(cfg, rt.DB, rt.Redis, rt.Store)
	if err != nil {
		rt.Close()
		return nil, err
	}
	s.runtime = rt
	return s, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, store storage.ObjectStore, opts ...service.Option) (*Server, error) {
	if cfg.StagingURLPrefix == "" {
		c := *cfg
		c.StagingURLPrefix = defaultStagingURLPrefix
		cfg = &c
	}

	staging, err := storage.NewStagingStore(cfg.StagingDir, cfg.StagingURLPrefix)
	if err != nil {
		return nil, fmt.Errorf("staging store init failed: %w", err)
	}
	if store == nil {
		store = storage.NewUnconfiguredStore("no object store driver")
	}

	settings, err := service.NewRetentionSettings(service.RetentionConfig{
		RetentionDays:       cfg.RetentionDays,
		MaxRetainedRejected: cfg.MaxRetainedRejected,
	})
	if err != nil {
		return nil, err
	}

	var locker service.Locker
	if redisClient != nil {
		locker = cache.NewRedisLock(redisClient, cache.RetentionLockKey)
	}

	middleware.InitMiddleware(cfg)

	submissions := repository.NewSubmissionRepository(db)
	notifier := notifications.NewNotifier(redisClient)

	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("fanvault-api"),
		staging:        staging,
		store:          store,
		notifier:       notifier,
		assetRepo:      repository.NewAssetRepository(db),

		intakeService:    service.NewIntakeService(submissions, staging, cfg, opts...),
		reviewService:    service.NewReviewService(submissions, staging, store, notifier, cfg.ObjectStoreTimeout(), opts...),
		retentionService: service.NewRetentionService(submissions, staging, settings, locker, opts...),
		queryService:     service.NewQueryService(submissions),
	}, nil
}

// NewApp builds the Fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "fanvault",
		// Leave room for multipart framing around the largest accepted file.
		BodyLimit: int(s.config.MaxUploadBytes()) + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return models.RespondWithError(c, fe.Code, &models.AppError{Code: httpErrorCode(fe.Code), Message: fe.Message})
			}
			slog.ErrorContext(c.UserContext(), "unhandled request error", "err", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and trace ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS must run before anything that can short-circuit so error
	// responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Path() == "/metrics"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
				Code:  "RATE_LIMITED",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Durable assets written by the filesystem driver.
	if s.config.ObjectStoreDriver == "filesystem" && s.config.MediaDir != "" {
		app.Static(s.config.MediaURLPrefix, s.config.MediaDir, fiber.Static{
			MaxAge: 86400,
		})
	}

	api := app.Group("/api")
	// Published assets are public.
	api.Get("/assets", s.ListAssets)

	protected := api.Group("", middleware.AuthRequired)

	submitHandlers := []fiber.Handler{s.CreateSubmission}
	if s.config.SubmissionRateLimit > 0 {
		window := time.Duration(s.config.SubmissionRateWindowSeconds) * time.Second
		submitHandlers = append([]fiber.Handler{
			middleware.RateLimit(s.redis, s.config.SubmissionRateLimit, window, "submissions"),
		}, submitHandlers...)
	}
	protected.Post("/submissions", submitHandlers...)

	admin := protected.Group("/admin", middleware.ReviewerRequired)
	admin.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "fanvault Metrics Dashboard",
	}))

	submissions := admin.Group("/submissions")
	// Specific routes before generic /:id routes
	submissions.Get("/counts", s.GetSubmissionCounts)
	submissions.Get("/", s.ListSubmissions)
	submissions.Post("/:id/approve", s.ApproveSubmission)
	submissions.Post("/:id/reject", s.RejectSubmission)

	retention := admin.Group("/retention")
	retention.Post("/cleanup", s.TriggerCleanup)
	retention.Get("/config", s.GetRetentionConfig)
	retention.Put("/config", s.UpdateRetentionConfig)
	retention.Get("/stats", s.GetRetentionStats)

	// Staged previews are reviewer-only regardless of where the prefix points.
	app.Get(s.config.StagingURLPrefix+"/*", middleware.AuthRequired, middleware.ReviewerRequired, s.ServeStagedFile)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck reports database, Redis and object store health.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis only backs best-effort features, so its absence degrades
	// readiness without failing it.
	redisStatus := "healthy"
	if s.redis == nil {
		redisStatus = "unavailable"
	} else if err := s.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unhealthy"
	}

	storeStatus := "healthy"
	switch {
	case s.store == nil || !s.store.IsConfigured():
		storeStatus = "unconfigured"
	default:
		if p, ok := s.store.(storage.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				storeStatus = "unhealthy"
			}
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	switch {
	case dbStatus != "healthy" || storeStatus != "healthy":
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	case redisStatus != "healthy":
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database":     dbStatus,
			"redis":        redisStatus,
			"object_store": storeStatus,
		},
		"time": time.Now().UTC(),
	})
}

// Start starts the retention scheduler and serves HTTP until the listener
// closes.
func (s *Server) Start() error {
	s.app = s.NewApp()

	if s.config.RetentionSchedulerEnabled {
		if err := s.retentionService.StartScheduler(s.config.RetentionSchedule); err != nil {
			return err
		}
	}

	slog.Info("Server starting", "port", s.config.Port, "env", s.config.Env)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.retentionService.StopScheduler(ctx); err != nil {
		slog.Warn("retention scheduler did not stop cleanly", "err", err)
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			slog.Error("error shutting down HTTP server", "err", err)
		}
	}

	if s.runtime != nil {
		s.runtime.Close()
	}

	slog.Info("Server shutdown complete")
	return nil
}
