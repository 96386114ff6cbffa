package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration values.
type Config struct {
	HTTPPort string        `mapstructure:"HTTP_PORT"`
	Secret   string        `mapstructure:"SECRET"`
	TokenTTL time.Duration `mapstructure:"TOKEN_TTL"`
	Env      string        `mapstructure:"ENV"`

	StoreDriver      string `mapstructure:"STORE_DRIVER"`
	DatabaseDSN      string `mapstructure:"DATABASE_DSN"`
	MongoURI         string `mapstructure:"MONGO_URI"`
	MongoDatabase    string `mapstructure:"MONGO_DATABASE"`
	MongoTransaction bool   `mapstructure:"MONGO_TRANSACTIONS"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`

	BackupDriver      string `mapstructure:"BACKUP_DRIVER"`
	BackupDir         string `mapstructure:"BACKUP_DIR"`
	BackupS3Bucket    string `mapstructure:"BACKUP_S3_BUCKET"`
	BackupS3Region    string `mapstructure:"BACKUP_S3_REGION"`
	BackupS3Endpoint  string `mapstructure:"BACKUP_S3_ENDPOINT"`
	BackupS3PathStyle bool   `mapstructure:"BACKUP_S3_PATH_STYLE"`
	BackupWorkers     int    `mapstructure:"BACKUP_WORKERS"`
	BackupQueueDepth  int    `mapstructure:"BACKUP_QUEUE_DEPTH"`

	TelegramAPIURL string `mapstructure:"TELEGRAM_API_URL"`

	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	LogFormat   string   `mapstructure:"LOG_FORMAT"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	SeedCatalog   string `mapstructure:"SEED_CATALOG"`
	AppVersion    string `mapstructure:"APP_VERSION"`
}

var keys = []string{
	"HTTP_PORT", "SECRET", "TOKEN_TTL", "ENV",
	"STORE_DRIVER", "DATABASE_DSN", "MONGO_URI", "MONGO_DATABASE", "MONGO_TRANSACTIONS", "REDIS_ADDR",
	"BACKUP_DRIVER", "BACKUP_DIR", "BACKUP_S3_BUCKET", "BACKUP_S3_REGION", "BACKUP_S3_ENDPOINT",
	"BACKUP_S3_PATH_STYLE", "BACKUP_WORKERS", "BACKUP_QUEUE_DEPTH", "TELEGRAM_API_URL",
	"LOG_LEVEL", "LOG_FORMAT", "CORS_ORIGINS",
	"ADMIN_USERNAME", "ADMIN_PASSWORD", "SEED_CATALOG", "APP_VERSION",
}

// Load reads .env if present, then the environment, with reasonable defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("SECRET", "dev_secret")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "file:medipos.db?_pragma=foreign_keys(1)")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "medipos")
	v.SetDefault("BACKUP_DRIVER", "fs")
	v.SetDefault("BACKUP_DIR", "./backups")
	v.SetDefault("BACKUP_S3_REGION", "us-east-1")
	v.SetDefault("BACKUP_WORKERS", 1)
	v.SetDefault("BACKUP_QUEUE_DEPTH", 16)
	v.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("APP_VERSION", "1.0.0")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var (
	storeDrivers  = []string{"memory", "sqlite", "postgres", "mysql", "mongo"}
	backupDrivers = []string{"fs", "s3", "memory"}
)

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("HTTP_PORT must be numeric, got %q", c.HTTPPort)
	}
	if !slices.Contains(storeDrivers, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be one of %s, got %q", strings.Join(storeDrivers, ", "), c.StoreDriver)
	}
	if !slices.Contains(backupDrivers, c.BackupDriver) {
		return fmt.Errorf("BACKUP_DRIVER must be one of %s, got %q", strings.Join(backupDrivers, ", "), c.BackupDriver)
	}
	if c.BackupDriver == "s3" && c.BackupS3Bucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET is required when BACKUP_DRIVER is s3")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.BackupWorkers < 1 {
		return fmt.Errorf("BACKUP_WORKERS must be at least 1")
	}
	if c.IsProduction() && c.Secret == "dev_secret" {
		return fmt.Errorf("SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
