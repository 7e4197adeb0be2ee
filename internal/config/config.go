// Package config loads server configuration from the environment.
//
// An optional .env file is read first, so local development needs no
// exported variables. Real environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/sakif/starhunters/internal/poll"
)

// Backend names accepted in BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendSupabase = "supabase"
)

// Config is the full server configuration.
type Config struct {
	Port         int           `env:"PORT,default=8080"`
	LogLevel     string        `env:"LOG_LEVEL,default=info"`
	PublicURL    string        `env:"PUBLIC_URL"`
	Backend      string        `env:"BACKEND,default=sqlite"`
	DBPath       string        `env:"DB_PATH,default=data/starhunters.db"`
	PollInterval time.Duration `env:"POLL_INTERVAL,default=3s"`
	JWTSecret    string        `env:"JWT_SECRET"`
	CookieSecure bool          `env:"COOKIE_SECURE,default=false"`

	// Devices not seen for this long lose their in-memory session.
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT,default=30m"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	SupabaseURL         string `env:"SUPABASE_URL"`
	SupabaseAnonKey     string `env:"SUPABASE_ANON_KEY"`
	SupabasePhotoBucket string `env:"SUPABASE_PHOTO_BUCKET"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION,default=us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PublicURL string `env:"S3_PUBLIC_URL"`
}

// Load reads envFile (if it exists) and decodes the environment into a
// validated Config. An empty envFile skips the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: reading %s: %w", envFile, err)
		}
	}

	var cfg Config
	// Defaults still apply when no variable is set at all.
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("config: decoding environment: %w", err)
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PollInterval < poll.MinInterval {
		return fmt.Errorf("config: POLL_INTERVAL must be at least %s", poll.MinInterval)
	}
	if c.SessionIdleTimeout < time.Minute {
		return errors.New("config: SESSION_IDLE_TIMEOUT must be at least 1m")
	}

	switch c.Backend {
	case BackendSQLite:
		if len(c.JWTSecret) < 16 {
			return errors.New("config: JWT_SECRET of at least 16 characters is required with the sqlite backend")
		}
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return errors.New("config: SUPABASE_URL and SUPABASE_ANON_KEY are required with the supabase backend")
		}
	default:
		return fmt.Errorf("config: unknown BACKEND %q", c.Backend)
	}

	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return errors.New("config: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return errors.New("config: S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
	}
	return nil
}

// GoogleEnabled reports whether local Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown LOG_LEVEL %q", s)
	}
}
