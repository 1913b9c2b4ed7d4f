package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Postgres      PostgresConfig      `envconfig:"POSTGRES"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Auth          AuthConfig          `envconfig:"AUTH"`
	Sync          SyncConfig          `envconfig:"SYNC"`
	Upload        UploadConfig        `envconfig:"UPLOAD"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
	AWS           AWSConfig           `envconfig:"AWS"`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8000"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}

type PostgresConfig struct {
	DSN             string        `envconfig:"DSN" default:"postgres://localhost:5432/nav?sslmode=disable"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	MigrateOnStart  bool          `envconfig:"MIGRATE_ON_START" default:"true"`
}

type RedisConfig struct {
	Address             string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password            string        `envconfig:"PASSWORD" default:""`
	Database            int           `envconfig:"DATABASE" default:"0"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"100"`
	PoolTimeout         time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	TLSEnabled          bool          `envconfig:"TLS_ENABLED" default:"false"`
	PasswordFromSecrets bool          `envconfig:"PASSWORD_FROM_SECRETS" default:"false"`
}

type AuthConfig struct {
	// SessionValidity is the absolute lifetime of a session from issuance.
	SessionValidity time.Duration `envconfig:"SESSION_VALIDITY" default:"720h"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	LockWindow      time.Duration `envconfig:"LOCK_WINDOW" default:"15m"`
	// PrivatePassword gates the private-category endpoints; AdminPassword
	// gates the mutation/upload endpoints. Both are shared static secrets
	// carried over from the original deployment.
	PrivatePassword string `envconfig:"PRIVATE_PASSWORD" default:""`
	AdminPassword   string `envconfig:"ADMIN_PASSWORD" default:""`
}

type SyncConfig struct {
	TableName string `envconfig:"TABLE_NAME" default:"nav-sync"`
	Region    string `envconfig:"REGION" default:"ap-northeast-2"`
}

type UploadConfig struct {
	Bucket string `envconfig:"BUCKET" default:"nav-images"`
	// Endpoint points the S3 client at an R2-compatible endpoint; empty
	// means plain AWS S3.
	Endpoint      string `envconfig:"ENDPOINT" default:""`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`
	MaxSizeBytes  int64  `envconfig:"MAX_SIZE_BYTES" default:"2097152"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"true"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

type AWSConfig struct {
	Region     string `envconfig:"REGION" default:"ap-northeast-2"`
	Profile    string `envconfig:"PROFILE" default:""`
	SecretName string `envconfig:"SECRET_NAME" default:""`
}

func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// Validate required fields
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	// Validate port
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	// Validate sample rate
	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	if cfg.Auth.SessionValidity <= 0 {
		return fmt.Errorf("session validity must be positive: %s", cfg.Auth.SessionValidity)
	}

	if cfg.Auth.MaxAttempts < 1 {
		return fmt.Errorf("invalid max attempts: %d", cfg.Auth.MaxAttempts)
	}

	return nil
}
