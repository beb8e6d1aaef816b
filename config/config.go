package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Platform  PlatformConfig
	Agora     AgoraConfig
	Zoom      ZoomConfig
	Zego      ZegoConfig
	Floor     FloorConfig
	Fanout    FanoutConfig
	AWS       AWSConfig
	Recording RecordingConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `env:"PORT" envDefault:"8080"`
	ReadTimeout        int    `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int    `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:3001"` // comma-separated, or "*"
}

// DatabaseConfig selects the session store and holds its connection settings.
type DatabaseConfig struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"`
	URL        string `env:"DATABASE_URL"` // if set, used as-is
	Host       string `env:"DB_HOST" envDefault:"localhost"`
	Port       string `env:"DB_PORT" envDefault:"5432"`
	User       string `env:"DB_USER" envDefault:"postgres"`
	Password   string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"live"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/live.db"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	ExpireHours int    `env:"JWT_EXPIRE_HOURS" envDefault:"24"`
}

// PlatformConfig bounds calls to the video platforms.
type PlatformConfig struct {
	CallTimeout   time.Duration `env:"PLATFORM_CALL_TIMEOUT" envDefault:"10s"`
	CredentialTTL time.Duration `env:"PLATFORM_CREDENTIAL_TTL" envDefault:"1h"`
}

// AgoraConfig holds Agora project credentials.
type AgoraConfig struct {
	AppID          string `env:"AGORA_APP_ID"`
	AppCertificate string `env:"AGORA_APP_CERTIFICATE"`
}

func (c AgoraConfig) Enabled() bool { return c.AppID != "" }

// ZoomConfig holds Zoom server-to-server OAuth and Meeting SDK credentials.
type ZoomConfig struct {
	AccountID    string `env:"ZOOM_ACCOUNT_ID"`
	ClientID     string `env:"ZOOM_CLIENT_ID"`
	ClientSecret string `env:"ZOOM_CLIENT_SECRET"`
	SDKKey       string `env:"ZOOM_SDK_KEY"`
	SDKSecret    string `env:"ZOOM_SDK_SECRET"`
	APIBaseURL   string `env:"ZOOM_API_BASE_URL"`
	TokenURL     string `env:"ZOOM_TOKEN_URL"`
}

func (c ZoomConfig) Enabled() bool { return c.AccountID != "" }

// ZegoConfig holds ZEGOCLOUD credentials.
type ZegoConfig struct {
	AppID        uint32 `env:"ZEGO_APP_ID"`
	ServerSecret string `env:"ZEGO_SERVER_SECRET"`
}

func (c ZegoConfig) Enabled() bool { return c.AppID != 0 }

// FloorConfig tunes raise-hand behavior.
type FloorConfig struct {
	EndDisablesCamera bool `env:"FLOOR_END_DISABLES_CAMERA" envDefault:"false"`
}

// FanoutConfig tunes event delivery to subscribers.
type FanoutConfig struct {
	Buffer int `env:"FANOUT_BUFFER" envDefault:"64"`
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string `env:"AWS_REGION"`
	AccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey      string `env:"AWS_SECRET_ACCESS_KEY"`
	RecordingsBucket     string `env:"AWS_S3_RECORDINGS_BUCKET"`
	PresignExpireMinutes int    `env:"AWS_PRESIGN_EXPIRE_MINUTES" envDefault:"15"`
}

// RecordingConfig holds recording webhook settings.
type RecordingConfig struct {
	WebhookSecret string `env:"RECORDING_WEBHOOK_SECRET"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint string `env:"OTEL_EXPORTER_ENDPOINT" envDefault:"http://localhost:4318"`
}

// DSN returns the PostgreSQL connection string.
// URL wins when set; otherwise it is built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %s or %s, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}
	if c.Platform.CallTimeout <= 0 {
		errs = append(errs, errors.New("PLATFORM_CALL_TIMEOUT must be positive"))
	}
	if c.Platform.CredentialTTL <= 0 {
		errs = append(errs, errors.New("PLATFORM_CREDENTIAL_TTL must be positive"))
	}
	if c.Fanout.Buffer <= 0 {
		errs = append(errs, errors.New("FANOUT_BUFFER must be positive"))
	}
	return errors.Join(errs...)
}
