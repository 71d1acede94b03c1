// Package main provides the entry point for the Susanoo dispatch service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/handlers"
	"github.com/amirphl/Susanoo/app/middleware"
	"github.com/amirphl/Susanoo/app/router"
	"github.com/amirphl/Susanoo/app/scheduler"
	"github.com/amirphl/Susanoo/app/services"
	businessflow "github.com/amirphl/Susanoo/business_flow"
	"github.com/amirphl/Susanoo/config"
	"github.com/amirphl/Susanoo/models"
	"github.com/amirphl/Susanoo/repository"
	"github.com/amirphl/Susanoo/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "susanoo",
	Short: "Paced CRM contact creation and email dispatch service",
	Long: `Susanoo runs per-account dispatch jobs against the CRM and Bigin APIs.

Examples:
  susanoo                                 # Start the HTTP control API
  susanoo serve                           # Same as above
  susanoo issue-token --operator ops-1    # Print an operator token pair`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API and the job scheduler",
	RunE:  runServe,
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Issue an operator access and refresh token",
	RunE:  runIssueToken,
}

var operatorFlag string

func init() {
	issueTokenCmd.Flags().StringVar(&operatorFlag, "operator", "", "Operator identifier embedded in the token subject")
	_ = issueTokenCmd.MarkFlagRequired("operator")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(issueTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Application holds the long-lived components shut down on exit
type Application struct {
	router    router.Router
	scheduler *scheduler.JobScheduler
	config    *config.ProductionConfig
	logger    zerolog.Logger
	stopFuncs []func()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logOut, logCloser, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	logger.Info().
		Str("environment", cfg.Deployment.Environment).
		Str("version", cfg.Deployment.Version).
		Str("commit", cfg.Deployment.CommitHash).
		Msg("starting susanoo")

	app, err := initializeApplication(cfg, logOut, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize application")
		return err
	}
	app.router.SetupRoutes()

	serverErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErr <- app.router.Start(address)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	app.shutdown()
	logger.Info().Msg("server stopped")
	return nil
}

func (a *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking control calls before draining the scheduler
	if err := a.router.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("error during http shutdown")
	}
	if err := a.scheduler.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("scheduler did not drain before timeout")
	}
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}
}

func runIssueToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	tokenService, err := newTokenService(cfg.JWT)
	if err != nil {
		return err
	}

	tokens, err := businessflow.NewAuthFlow(tokenService, cfg.JWT.AccessTokenTTL).IssueTokens(cmd.Context(), operatorFlag)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tokens)
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger zerolog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&models.CRMAccount{}, &models.JobRun{}); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	logger.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Bool("auto_migrate", cfg.AutoMigrate).
		Msg("database connection established")
	return db, nil
}

// initializeCache returns nil when redis is not the configured provider
func initializeCache(cfg config.CacheConfig, logger zerolog.Logger) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Int("db", cfg.RedisDB).Msg("redis connection established")
	return rc, nil
}

func startCacheHealthMonitor(client *redis.Client, interval time.Duration, logger zerolog.Logger) func() {
	monitorCtx, cancel := context.WithCancel(context.Background())
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn().Err(err).Msg("redis healthcheck failed")
				}
				c()
			}
		}
	}()
	return cancel
}

func newTokenService(cfg config.JWTConfig) (services.TokenService, error) {
	tokenService, err := services.NewTokenService(
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
		cfg.Issuer,
		cfg.Audience,
		cfg.UseRSAKeys,
		cfg.PrivateKey,
		cfg.PublicKey,
		cfg.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	return tokenService, nil
}

func initializeApplication(cfg *config.ProductionConfig, accessLog io.Writer, logger zerolog.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	var tokenCache services.TokenCache
	if rc != nil {
		tokenCache = services.NewRedisTokenCache(rc, cfg.Cache.RedisPrefix)
		stopFuncs = append(stopFuncs,
			func() { _ = rc.Close() },
			startCacheHealthMonitor(rc, cfg.Cache.CleanupInterval, logger),
		)
	} else {
		tokenCache = services.NewMemoryTokenCache()
		logger.Warn().Msg("redis disabled, oauth tokens are cached in process")
	}

	sealer, err := utils.NewSecretSealer(cfg.Crypto.SecretSealingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret sealer: %w", err)
	}

	accountRepo := repository.NewCRMAccountRepository(db)
	jobRunRepo := repository.NewJobRunRepository(db)

	accountResolver := services.NewAccountResolver(accountRepo, sealer, cfg.OAuth.AccountsURL)
	tokenProvider := services.NewOAuthTokenProvider(cfg.OAuth, tokenCache, logger)
	crmClient := crm.NewClient(cfg.CRMClient, logger)
	platforms := crm.NewPlatforms(cfg.Platforms)

	opts := scheduler.Options{
		Tick:                     cfg.Scheduler.CountdownInterval,
		VerificationDelaySeconds: cfg.Scheduler.VerificationDelaySeconds,
		DispatchTimeout:          cfg.Scheduler.DispatchTimeout,
		MaxItems:                 cfg.Scheduler.MaxItemsPerJob,
	}
	if cfg.Scheduler.ArchiveEnabled {
		opts.Archiver = scheduler.NewRunArchiver(jobRunRepo)
	}
	sched := scheduler.NewJobScheduler(accountResolver, tokenProvider, crmClient, opts, logger)

	tokenService, err := newTokenService(cfg.JWT)
	if err != nil {
		return nil, err
	}

	jobFlow := businessflow.NewJobFlow(sched, platforms, jobRunRepo, cfg.Scheduler, logger)
	accountFlow := businessflow.NewAccountFlow(accountRepo, sealer, tokenProvider, logger)
	authFlow := businessflow.NewAuthFlow(tokenService, cfg.JWT.AccessTokenTTL)

	appRouter := router.NewFiberRouter(
		handlers.NewJobHandler(jobFlow),
		handlers.NewAccountHandler(accountFlow),
		handlers.NewAuthHandler(authFlow),
		middleware.NewAuthMiddleware(tokenService),
		cfg,
		accessLog,
		logger,
	)

	return &Application{
		router:    appRouter,
		scheduler: sched,
		config:    cfg,
		logger:    logger,
		stopFuncs: stopFuncs,
	}, nil
}
