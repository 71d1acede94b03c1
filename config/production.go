// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/amirphl/Susanoo/utils"
	"github.com/spf13/viper"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	OAuth      OAuthConfig      `json:"oauth"`
	Platforms  PlatformsConfig  `json:"platforms"`
	CRMClient  CRMClientConfig  `json:"crm_client"`
	Crypto     CryptoConfig     `json:"crypto"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`

	// Rate Limiting
	GlobalRateLimit  int           `json:"global_rate_limit"` // requests per window
	ControlRateLimit int           `json:"control_rate_limit"`
	RateLimitWindow  time.Duration `json:"rate_limit_window"`

	// API auth
	RequireAuth bool `json:"require_auth"`
}

type JWTConfig struct {
	SecretKey       string        `json:"secret_key"`
	PrivateKey      string        `json:"private_key"`  // RSA private key in PEM format
	PublicKey       string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys      bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	Issuer          string        `json:"issuer"`
	Audience        string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, console
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled         bool          `json:"enabled"`
	Provider        string        `json:"provider"` // redis, memory
	RedisURL        string        `json:"redis_url"`
	RedisDB         int           `json:"redis_db"`
	RedisPrefix     string        `json:"redis_prefix"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// SchedulerConfig tunes the in-process dispatch scheduler
type SchedulerConfig struct {
	DefaultDelaySeconds      int           `json:"default_delay_seconds"`
	VerificationDelaySeconds int           `json:"verification_delay_seconds"`
	MaxItemsPerJob           int           `json:"max_items_per_job"`
	CountdownInterval        time.Duration `json:"countdown_interval"`
	DispatchTimeout          time.Duration `json:"dispatch_timeout"`
	ArchiveEnabled           bool          `json:"archive_enabled"`
}

// OAuthConfig holds the token exchange settings shared by every account
type OAuthConfig struct {
	AccountsURL    string        `json:"accounts_url"`
	RefreshSkew    time.Duration `json:"refresh_skew"`
	RequestTimeout time.Duration `json:"request_timeout"`
	LockTTL        time.Duration `json:"lock_ttl"`
}

type PlatformConfig struct {
	BaseURL string `json:"base_url"`
}

type PlatformsConfig struct {
	CRM   PlatformConfig `json:"crm"`
	Bigin PlatformConfig `json:"bigin"`
}

type CRMClientConfig struct {
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
}

type CryptoConfig struct {
	SecretSealingKey string `json:"secret_sealing_key"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
}

// LoadProductionConfig loads and validates configuration from environment variables,
// an optional .env file and an optional config.yaml in the working directory
func LoadProductionConfig() (*ProductionConfig, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getString(v, "DB_HOST", "localhost"),
			Port:            getInt(v, "DB_PORT", 5432),
			Name:            getString(v, "DB_NAME", "susanoo"),
			User:            getString(v, "DB_USER", "postgres"),
			Password:        getString(v, "DB_PASSWORD", ""),
			SSLMode:         getString(v, "DB_SSL_MODE", "require"),
			MaxOpenConns:    getInt(v, "DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt(v, "DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration(v, "DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getDuration(v, "DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			AutoMigrate:     getBool(v, "DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Host:            getString(v, "SERVER_HOST", "0.0.0.0"),
			Port:            getInt(v, "SERVER_PORT", 8080),
			ReadTimeout:     getDuration(v, "SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDuration(v, "SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getDuration(v, "SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration(v, "SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getInt(v, "SERVER_BODY_LIMIT", 8*1024*1024), // 8MB
		},
		Security: SecurityConfig{
			AllowedOrigins:   getStringSlice(v, "CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice(v, "CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getStringSlice(v, "CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}),
			AllowCredentials: getBool(v, "CORS_ALLOW_CREDENTIALS", false),
			GlobalRateLimit:  getInt(v, "GLOBAL_RATE_LIMIT", 600),
			ControlRateLimit: getInt(v, "CONTROL_RATE_LIMIT", 60),
			RateLimitWindow:  getDuration(v, "RATE_LIMIT_WINDOW", 1*time.Minute),
			RequireAuth:      getBool(v, "REQUIRE_AUTH", true),
		},
		JWT: JWTConfig{
			SecretKey:       getString(v, "JWT_SECRET_KEY", ""),
			PrivateKey:      getString(v, "JWT_PRIVATE_KEY", ""),
			PublicKey:       getString(v, "JWT_PUBLIC_KEY", ""),
			UseRSAKeys:      getBool(v, "JWT_USE_RSA_KEYS", false),
			AccessTokenTTL:  getDuration(v, "JWT_ACCESS_TOKEN_TTL", utils.AccessTokenTTL),
			RefreshTokenTTL: getDuration(v, "JWT_REFRESH_TOKEN_TTL", utils.RefreshTokenTTL),
			Issuer:          getString(v, "JWT_ISSUER", "susanoo"),
			Audience:        getString(v, "JWT_AUDIENCE", "susanoo-api"),
		},
		Logging: LoggingConfig{
			Level:           getString(v, "LOG_LEVEL", "info"),
			Format:          getString(v, "LOG_FORMAT", "json"),
			Output:          getString(v, "LOG_OUTPUT", "stdout"),
			FilePath:        getString(v, "LOG_FILE_PATH", "data/susanoo.log"),
			MaxSize:         getInt(v, "LOG_MAX_SIZE", 100),
			MaxBackups:      getInt(v, "LOG_MAX_BACKUPS", 10),
			MaxAge:          getInt(v, "LOG_MAX_AGE", 30),
			Compress:        getBool(v, "LOG_COMPRESS", true),
			EnableAccessLog: getBool(v, "LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getBool(v, "METRICS_ENABLED", true),
			Path:    getString(v, "METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:         getBool(v, "CACHE_ENABLED", true),
			Provider:        getString(v, "CACHE_PROVIDER", "redis"),
			RedisURL:        getString(v, "CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:         getInt(v, "CACHE_REDIS_DB", 0),
			RedisPrefix:     getString(v, "CACHE_REDIS_PREFIX", "susanoo:"),
			CleanupInterval: getDuration(v, "CACHE_CLEANUP_INTERVAL", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			DefaultDelaySeconds:      getInt(v, "SCHEDULER_DEFAULT_DELAY_SECONDS", 10),
			VerificationDelaySeconds: getInt(v, "SCHEDULER_VERIFICATION_DELAY_SECONDS", utils.DefaultVerificationDelaySeconds),
			MaxItemsPerJob:           getInt(v, "SCHEDULER_MAX_ITEMS_PER_JOB", utils.DefaultMaxItemsPerJob),
			CountdownInterval:        getDuration(v, "SCHEDULER_COUNTDOWN_INTERVAL", 1*time.Second),
			DispatchTimeout:          getDuration(v, "SCHEDULER_DISPATCH_TIMEOUT", 2*time.Minute),
			ArchiveEnabled:           getBool(v, "SCHEDULER_ARCHIVE_ENABLED", true),
		},
		OAuth: OAuthConfig{
			AccountsURL:    getString(v, "OAUTH_ACCOUNTS_URL", "https://accounts.zoho.com"),
			RefreshSkew:    getDuration(v, "OAUTH_REFRESH_SKEW", utils.OAuthTokenRefreshSkew),
			RequestTimeout: getDuration(v, "OAUTH_REQUEST_TIMEOUT", 30*time.Second),
			LockTTL:        getDuration(v, "OAUTH_LOCK_TTL", 15*time.Second),
		},
		Platforms: PlatformsConfig{
			CRM: PlatformConfig{
				BaseURL: getString(v, "PLATFORM_CRM_BASE_URL", "https://www.zohoapis.com/crm/v2"),
			},
			Bigin: PlatformConfig{
				BaseURL: getString(v, "PLATFORM_BIGIN_BASE_URL", "https://www.zohoapis.com/bigin/v1"),
			},
		},
		CRMClient: CRMClientConfig{
			Timeout:           getDuration(v, "CRM_CLIENT_TIMEOUT", 60*time.Second),
			RequestsPerSecond: getFloat(v, "CRM_CLIENT_RPS", 5),
			Burst:             getInt(v, "CRM_CLIENT_BURST", 5),
		},
		Crypto: CryptoConfig{
			SecretSealingKey: getString(v, "SECRET_SEALING_KEY", ""),
		},
		Deployment: DeploymentConfig{
			Environment: getString(v, "APP_ENV", "production"),
			Version:     getString(v, "VERSION", "1.0.0"),
			CommitHash:  getString(v, "COMMIT_HASH", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newViper builds a viper instance reading config.yaml (optional), then .env (optional),
// with environment variables taking precedence over both
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		env := viper.New()
		env.SetConfigFile(".env")
		env.SetConfigType("env")
		if err := env.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		if err := v.MergeConfigMap(env.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge .env file: %w", err)
		}
	}

	v.AutomaticEnv()
	return v, nil
}

// Helper functions for keyed lookups with registered defaults
func getString(v *viper.Viper, key, defaultValue string) string {
	v.SetDefault(key, defaultValue)
	return v.GetString(key)
}

func getInt(v *viper.Viper, key string, defaultValue int) int {
	v.SetDefault(key, defaultValue)
	return v.GetInt(key)
}

func getFloat(v *viper.Viper, key string, defaultValue float64) float64 {
	v.SetDefault(key, defaultValue)
	return v.GetFloat64(key)
}

func getBool(v *viper.Viper, key string, defaultValue bool) bool {
	v.SetDefault(key, defaultValue)
	return v.GetBool(key)
}

func getDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	v.SetDefault(key, defaultValue)
	return v.GetDuration(key)
}

// getStringSlice accepts comma separated values from the environment
func getStringSlice(v *viper.Viper, key string, defaultValue []string) []string {
	raw := v.GetString(key)
	if raw == "" {
		if list := v.GetStringSlice(key); len(list) > 0 {
			return list
		}
		return defaultValue
	}
	var result []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) > 0 {
		return result
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate JWT configuration
	if cfg.Security.RequireAuth && !cfg.JWT.UseRSAKeys {
		if len(cfg.JWT.SecretKey) < 32 {
			errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
		}
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate scheduler configuration
	if cfg.Scheduler.DefaultDelaySeconds < 0 {
		errors = append(errors, "SCHEDULER_DEFAULT_DELAY_SECONDS must not be negative")
	}
	if cfg.Scheduler.VerificationDelaySeconds < 0 {
		errors = append(errors, "SCHEDULER_VERIFICATION_DELAY_SECONDS must not be negative")
	}
	if cfg.Scheduler.MaxItemsPerJob <= 0 {
		errors = append(errors, "SCHEDULER_MAX_ITEMS_PER_JOB must be positive")
	}
	if cfg.Scheduler.CountdownInterval <= 0 {
		errors = append(errors, "SCHEDULER_COUNTDOWN_INTERVAL must be positive")
	}

	// Validate remote endpoints
	if cfg.OAuth.AccountsURL == "" {
		errors = append(errors, "OAUTH_ACCOUNTS_URL is required")
	}
	if cfg.Platforms.CRM.BaseURL == "" {
		errors = append(errors, "PLATFORM_CRM_BASE_URL is required")
	}
	if cfg.Platforms.Bigin.BaseURL == "" {
		errors = append(errors, "PLATFORM_BIGIN_BASE_URL is required")
	}
	if cfg.CRMClient.RequestsPerSecond <= 0 {
		errors = append(errors, "CRM_CLIENT_RPS must be positive")
	}

	if len(cfg.Crypto.SecretSealingKey) < 16 {
		errors = append(errors, "SECRET_SEALING_KEY must be at least 16 characters long")
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		errors = append(errors, "LOG_FILE_PATH is required when logging to a file")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
