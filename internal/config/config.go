package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"

	devJWTSecret = "walletd-dev-secret"
)

// Config captures application runtime configuration.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	StoreDriver     string
	DatabaseURL     string
	RedisURL        string
	JournalDir      string
	LockBackend     string
	LockTTL         time.Duration
	JWTSecret       string
	AccessTokenTTL  time.Duration
	AdminCredential string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	LoginRateLimit  int
}

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables win.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_name", "walletd")
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", StoreMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("journal_dir", "")
	v.SetDefault("lock_backend", LockLocal)
	v.SetDefault("lock_ttl", 30*time.Second)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("access_token_ttl", 15*time.Minute)
	v.SetDefault("admin_credential", "admin")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("idempotency_ttl", 24*time.Hour)
	v.SetDefault("login_rate_limit", 5)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		AppName:         v.GetString("app_name"),
		AppEnv:          v.GetString("app_env"),
		Port:            v.GetString("port"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		StoreDriver:     strings.ToLower(v.GetString("store_driver")),
		DatabaseURL:     v.GetString("database_url"),
		RedisURL:        v.GetString("redis_url"),
		JournalDir:      v.GetString("journal_dir"),
		LockBackend:     strings.ToLower(v.GetString("lock_backend")),
		LockTTL:         v.GetDuration("lock_ttl"),
		JWTSecret:       v.GetString("jwt_secret"),
		AccessTokenTTL:  v.GetDuration("access_token_ttl"),
		AdminCredential: v.GetString("admin_credential"),
		ShutdownPeriod:  v.GetDuration("shutdown_timeout"),
		IdempotencyTTL:  v.GetDuration("idempotency_ttl"),
		LoginRateLimit:  v.GetInt("login_rate_limit"),
	}
	if cfg.JWTSecret == "" && cfg.IsDev() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when LOCK_BACKEND=%s", LockRedis)
		}
	default:
		return fmt.Errorf("invalid LOCK_BACKEND %q", c.LockBackend)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	return nil
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
