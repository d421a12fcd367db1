// Package server contains the HTTP handlers for the report API.
package server

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"dhoka/internal/cache"
	"dhoka/internal/config"
	"dhoka/internal/middleware"
	"dhoka/internal/models"
	"dhoka/internal/observability"
	"dhoka/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the already-initialised dependencies of the HTTP server.
type Deps struct {
	Config  *config.Config
	Posts   *service.PostService
	Sweeper *service.Sweeper
	Cache   *cache.Store
	// Checks are probed by /health/ready, keyed by name.
	Checks map[string]Pinger
}

// Server holds all dependencies and provides handlers
type Server struct {
	config  *config.Config
	posts   *service.PostService
	sweeper *service.Sweeper
	cache   *cache.Store
	checks  map[string]Pinger
	app     *fiber.App
}

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// httpMetrics returns the process-wide HTTP metrics middleware. Collectors
// register with the default registry, so it is built once.
func httpMetrics() *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New("dhoka-api")
	})
	return prom
}

// NewServer creates a Server and builds its Fiber app.
func NewServer(deps Deps) *Server {
	if deps.Cache == nil {
		deps.Cache = cache.New(nil)
	}
	s := &Server{
		config:  deps.Config,
		posts:   deps.Posts,
		sweeper: deps.Sweeper,
		cache:   deps.Cache,
		checks:  deps.Checks,
	}

	app := fiber.New(fiber.Config{
		AppName:   "Dhoka API",
		BodyLimit: int(max(deps.Config.ImageMaxUploadSize, 1)) * maxImagesPerRequest * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			observability.GlobalLogger.ErrorContext(c.UserContext(), "unhandled error",
				slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return s
}

// App exposes the Fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())
	app.Use(httpMetrics().Middleware)
	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before anything that can short-circuit so error responses
	// still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		MaxAge:       86400,
	}))

	// Coarse per-instance limit; per-route limits below are shared via Redis.
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || strings.HasPrefix(c.Path(), "/health")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, 0, &models.AppError{
				Kind:    models.KindRateLimited,
				Code:    models.CodeRateLimited,
				Message: "Too many requests, please try again later.",
			})
		},
	}))
}

func (s *Server) failPolicy() cache.FailPolicy {
	if s.config.RateLimitFailClosed {
		return cache.FailClosed
	}
	return cache.FailOpen
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	httpMetrics().RegisterAt(app, "/metrics")

	api := app.Group("/api")
	policy := s.failPolicy()

	posts := api.Group("/posts")
	posts.Post("/init", middleware.RateLimit(s.cache, "init", 20, time.Hour, policy), s.InitPost)
	posts.Get("/search", middleware.RateLimit(s.cache, "search", 60, time.Minute, policy), s.SearchPosts)
	posts.Get("/autocomplete", s.Autocomplete)
	posts.Get("/recent", s.RecentPosts)
	posts.Post("/:id/send-otp", middleware.RateLimit(s.cache, "send-otp", 5, 10*time.Minute, policy), s.SendOtp)
	posts.Post("/:id/verify", middleware.RateLimit(s.cache, "verify", 10, 10*time.Minute, policy), s.VerifyPost)
	posts.Post("/:id/upload-images", middleware.RateLimit(s.cache, "upload", 20, time.Hour, policy), s.UploadImages)
	posts.Get("/:id", s.GetPost)

	api.Get("/metrics/search-metrics", s.GetSearchMetrics)

	moderator := middleware.AuthRequired(s.config.JWTSecret, middleware.RoleAdmin, middleware.RoleMember)
	posts.Put("/:id/approve", moderator, s.ApprovePost)
	posts.Put("/:id/reject", moderator, s.RejectPost)
	posts.Put("/:id/settled", moderator, s.SettlePost)
	posts.Put("/:id/re-index", moderator, s.ReIndexPost)
	api.Delete("/post/:id", moderator, s.DeletePost)

	admin := api.Group("/admin", moderator)
	admin.Get("/posts", s.ListPosts)
	admin.Get("/posts/:id", s.GetPostAdmin)
	admin.Put("/counters/:label", middleware.AuthRequired(s.config.JWTSecret, middleware.RoleAdmin), s.SetCounter)
	admin.Post("/sweep", middleware.AuthRequired(s.config.JWTSecret, middleware.RoleAdmin), s.RunSweep)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings every dependency and reports 503 if any is down.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := fiber.StatusOK
	overall := "healthy"
	checks := fiber.Map{}
	for _, name := range names {
		if err := s.checks[name].Ping(ctx); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "readiness check failed",
				slog.String("check", name), slog.String("error", err.Error()))
			checks[name] = "unhealthy"
			status = fiber.StatusServiceUnavailable
			overall = "unhealthy"
			continue
		}
		checks[name] = "healthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": checks,
		"time":   time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	observability.GlobalLogger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		observability.GlobalLogger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		return err
	}
	observability.GlobalLogger.Info("server shutdown complete")
	return nil
}
