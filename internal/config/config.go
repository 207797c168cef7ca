package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the generation service.
type Config struct {
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"mysql"`
	DatabaseDSN    string `env:"DATABASE_DSN"`

	HTTPListenAddr  string `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	AdminListenAddr string `env:"ADMIN_LISTEN_ADDR" envDefault:":8081"`
	AdminUsername   string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword   string `env:"ADMIN_PASSWORD" envDefault:"change-me"`
	JWTSecret       string `env:"JWT_SECRET"`

	RedisURL    string `env:"REDIS_URL"`
	QueuePrefix string `env:"QUEUE_PREFIX" envDefault:"photogen"`

	GenerationCreditCost int    `env:"GENERATION_CREDIT_COST" envDefault:"5"`
	FreePackageID        string `env:"FREE_PACKAGE_ID" envDefault:"freepackage"`
	DefaultProvider      string `env:"DEFAULT_PROVIDER" envDefault:"gemini"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"10"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"5"`

	SecurityFlagThreshold int           `env:"SECURITY_FLAG_THRESHOLD" envDefault:"5"`
	SecurityFlagWindow    time.Duration `env:"SECURITY_FLAG_WINDOW" envDefault:"15m"`

	ReconcileSchedule   string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
	ReconcileStaleAfter time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"10m"`

	S3Endpoint     string        `env:"S3_ENDPOINT"`
	S3Region       string        `env:"S3_REGION"`
	S3AccessKey    string        `env:"S3_ACCESS_KEY"`
	S3SecretKey    string        `env:"S3_SECRET_KEY"`
	S3Bucket       string        `env:"S3_BUCKET"`
	S3UsePathStyle bool          `env:"S3_USE_PATH_STYLE" envDefault:"false"`
	S3PresignTTL   time.Duration `env:"S3_PRESIGN_TTL" envDefault:"15m"`

	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID int64  `env:"TELEGRAM_ALERT_CHAT_ID"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from the environment, after applying an optional .env file.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.S3Bucket != "" {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		missing = append(missing, "TELEGRAM_ALERT_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.DatabaseDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.GenerationCreditCost <= 0 {
		return fmt.Errorf("GENERATION_CREDIT_COST must be positive")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive")
	}
	if c.SecurityFlagThreshold <= 0 {
		return fmt.Errorf("SECURITY_FLAG_THRESHOLD must be positive")
	}
	return nil
}

// StorageEnabled reports whether object storage settings are present.
func (c Config) StorageEnabled() bool {
	return c.S3Bucket != ""
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		// Load keeps variables already present in the process environment.
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
