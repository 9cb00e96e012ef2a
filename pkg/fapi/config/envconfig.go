package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type EnvConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Bootstrap operator account. The placeholder password is flagged via
	// should_change_password on every issued token until rotated.
	AdminUsername string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD" default:"admin"`

	// TokenTTL is the session token lifetime in seconds.
	TokenTTL int `envconfig:"TOKEN_TTL" default:"604800"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"flock"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"password"`
	DBName     string `envconfig:"DB_NAME" default:"flock"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	// Broker credentials shared by all per-job coordinates.
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Worker entrypoints, whitespace-split into argv. The per-run flags
	// are appended by the launcher.
	ServerCmd string `envconfig:"SERVER_CMD" required:"true"`
	ClientCmd string `envconfig:"CLIENT_CMD"`

	LogDir string `envconfig:"LOG_DIR" default:"/tmp/flock/runs"`

	// fit_start polling budget.
	FitStartPollSeconds int `envconfig:"FIT_START_POLL_SECONDS" default:"3"`
	FitStartMaxRetries  int `envconfig:"FIT_START_MAX_RETRIES" default:"20"`

	// Optional artifact store; archival is disabled when the endpoint is
	// empty.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"flock-artifacts"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

func IsDev() bool {
	env := os.Getenv("ENVIRONMENT")
	return env == "" || env == "development"
}

func ValidateEnv() (*EnvConfig, error) {
	if IsDev() {
		if err := godotenv.Load(); err != nil {
			log.Println("ℹ No .env file found")
		} else {
			log.Println("✓ Loaded .env file")
		}
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var errors []string

	if len(strings.Fields(cfg.ServerCmd)) == 0 {
		errors = append(errors, "  ❌ SERVER_CMD must name the FL server entrypoint")
	}

	if cfg.S3Endpoint != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		errors = append(errors, "  ❌ S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}

	if cfg.FitStartMaxRetries <= 0 {
		errors = append(errors, "  ❌ FIT_START_MAX_RETRIES must be positive")
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return &cfg, nil
}

// ServerArgv and ClientArgv split the configured entrypoints into argv
// form for the launcher.
func (c *EnvConfig) ServerArgv() []string {
	return strings.Fields(c.ServerCmd)
}

func (c *EnvConfig) ClientArgv() []string {
	return strings.Fields(c.ClientCmd)
}

func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func (c *EnvConfig) Print(fmtr func(string, ...interface{})) {
	fmtr("📋 Configuration:\n")
	fmtr("  Environment: %s\n", c.Environment)
	fmtr("  Port: %s\n", c.Port)
	fmtr("  Admin: %s (password %s)\n", c.AdminUsername, MaskSecret(c.AdminPassword))
	fmtr("  Database: %s@%s:%d/%s (sslmode=%s)\n", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	fmtr("  Server cmd: %s\n", c.ServerCmd)
	fmtr("  Log dir: %s\n", c.LogDir)
	fmtr("  fit_start budget: %d tries, %ds apart\n", c.FitStartMaxRetries, c.FitStartPollSeconds)

	if c.S3Endpoint != "" {
		fmtr("  Artifacts: ✓ %s/%s\n", c.S3Endpoint, c.S3Bucket)
	} else {
		fmtr("  Artifacts: ✗ Disabled\n")
	}
}
