// Package router provides HTTP routing, middleware configuration, and server setup for the control API
package router

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"time"

	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/handlers"
	"github.com/amirphl/Susanoo/app/middleware"
	"github.com/amirphl/Susanoo/config"
	"github.com/amirphl/Susanoo/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const healthPath = "/api/v1/health"

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	Shutdown(ctx context.Context) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app            *fiber.App
	jobHandler     handlers.JobHandlerInterface
	accountHandler handlers.AccountHandlerInterface
	authHandler    handlers.AuthHandlerInterface
	authMiddleware *middleware.AuthMiddleware
	cfg            *config.ProductionConfig
	accessLog      io.Writer
	logger         zerolog.Logger
}

// NewFiberRouter creates a new Fiber router. accessLog receives the request log when enabled.
func NewFiberRouter(
	jobHandler handlers.JobHandlerInterface,
	accountHandler handlers.AccountHandlerInterface,
	authHandler handlers.AuthHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
	cfg *config.ProductionConfig,
	accessLog io.Writer,
	log zerolog.Logger,
) Router {
	r := &FiberRouter{
		jobHandler:     jobHandler,
		accountHandler: accountHandler,
		authHandler:    authHandler,
		authMiddleware: authMiddleware,
		cfg:            cfg,
		accessLog:      accessLog,
		logger:         log.With().Str("component", "router").Logger(),
	}
	r.app = fiber.New(fiber.Config{
		AppName:      "Susanoo Dispatch API",
		ServerHeader: "Susanoo",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	api.Use(r.rateLimiter(r.cfg.Security.GlobalRateLimit, func(c fiber.Ctx) bool {
		return c.Path() == healthPath
	}))

	control := r.rateLimiter(r.cfg.Security.ControlRateLimit, nil)

	auth := api.Group("/auth")
	auth.Post("/refresh", control, r.authHandler.Refresh)

	jobs := api.Group("/jobs")
	accounts := api.Group("/accounts")
	if r.cfg.Security.RequireAuth {
		jobs.Use(r.authMiddleware.Authenticate())
		accounts.Use(r.authMiddleware.Authenticate())
	}

	jobs.Get("/", r.jobHandler.List)
	jobs.Get("/:platform/:account", r.jobHandler.Get)
	jobs.Get("/:platform/:account/export", r.jobHandler.Export)
	jobs.Get("/:platform/:account/runs/latest", r.jobHandler.LatestRun)
	jobs.Post("/:platform/:account/start", control, r.jobHandler.Start)
	jobs.Post("/:platform/:account/pause", control, r.jobHandler.Pause)
	jobs.Post("/:platform/:account/resume", control, r.jobHandler.Resume)
	jobs.Post("/:platform/:account/stop", control, r.jobHandler.Stop)
	jobs.Delete("/:platform/:account", control, r.jobHandler.Reset)

	accounts.Get("/", r.accountHandler.List)
	accounts.Get("/:account", r.accountHandler.Get)
	accounts.Post("/", control, r.accountHandler.Register)
	accounts.Delete("/:account", control, r.accountHandler.Deactivate)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	r.logger.Info().
		Bool("require_auth", r.cfg.Security.RequireAuth).
		Bool("metrics", r.cfg.Metrics.Enabled).
		Msg("routes configured")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: uuid.NewString,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error().
				Str("request_id", requestid.FromContext(c)).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("ip", c.IP()).
				Interface("panic", e).
				Msg("panic recovered")
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:            "no-referrer",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	sec := r.cfg.Security
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: sec.AllowedOrigins,
		AllowMethods: sec.AllowedMethods,
		AllowHeaders: sec.AllowedHeaders,
		ExposeHeaders: []string{
			"X-Request-ID",
			"Content-Disposition",
		},
		// Credentials cannot be combined with a wildcard origin
		AllowCredentials: sec.AllowCredentials && !slices.Contains(sec.AllowedOrigins, "*"),
		MaxAge:           utils.CORSMaxAge,
	}))

	if r.cfg.Logging.EnableAccessLog && r.accessLog != nil {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","request_id":"${respHeader:X-Request-ID}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Stream:     r.accessLog,
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath || c.Path() == r.cfg.Metrics.Path
			},
		}))
	}

	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics())
	}
}

func (r *FiberRouter) rateLimiter(limit int, next func(c fiber.Ctx) bool) fiber.Handler {
	window := r.cfg.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: next,
	})
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info().Str("address", address).Msg("starting server")
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests
func (r *FiberRouter) Shutdown(ctx context.Context) error {
	return r.app.ShutdownWithContext(ctx)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"version":   r.cfg.Deployment.Version,
			"service":   "susanoo",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// errorHandler renders errors that escaped the handlers
func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errCode := "INTERNAL_ERROR"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		if code < fiber.StatusInternalServerError {
			message = e.Message
			errCode = "REQUEST_ERROR"
		}
	}

	r.logger.Error().Err(err).
		Int("status", code).
		Str("request_id", requestid.FromContext(c)).
		Str("path", c.Path()).
		Msg("request failed")

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}
