// Package config читает настройки сервиса из флагов командной строки;
// значения по умолчанию берутся из переменных окружения.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultPort = "8080"

// Типы хранилищ
const (
	StorageInMemory = "in-memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Типы хранилищ сеансов
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Config - настройки сервиса.
type Config struct {
	Port string

	Storage     string
	DatabaseURL string
	SQLitePath  string
	SeedData    bool

	Sessions       string
	SessionTTL     time.Duration
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IdentityHeader string

	PerspectiveEndpoint string
	PerspectiveAPIKey   string
	ModerationTimeout   time.Duration

	AllowedOrigins []string

	LogLevel  string
	LogPretty bool

	ShutdownTimeout time.Duration
}

// Load разбирает аргументы (без имени программы).
func Load(args []string) (*Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{}
	var origins string

	fs := flag.NewFlagSet("kindwords", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", env("PORT", defaultPort), "HTTP port")
	fs.StringVar(&cfg.Storage, "storage", env("STORAGE", StorageInMemory), "Storage type (in-memory, postgres or sqlite)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", env("DATABASE_URL", ""), "PostgreSQL DSN")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", env("SQLITE_PATH", "kindwords.db"), "SQLite database file")
	fs.BoolVar(&cfg.SeedData, "seed", envBool(getenv("SEED_DATA"), true), "Fill in-memory storage with mock data")
	fs.StringVar(&cfg.Sessions, "sessions", env("SESSIONS", SessionsMemory), "Session store (memory or redis)")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", envDuration(getenv("SESSION_TTL"), 30*24*time.Hour), "Session lifetime")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", envInt(getenv("REDIS_DB"), 0), "Redis database number")
	fs.StringVar(&cfg.IdentityHeader, "identity-header", env("IDENTITY_HEADER", "X-Authenticated-User"), "Header set by the authenticating proxy")
	fs.StringVar(&cfg.PerspectiveEndpoint, "perspective-endpoint", env("PERSPECTIVE_ENDPOINT", ""), "Perspective comments:analyze endpoint")
	fs.StringVar(&cfg.PerspectiveAPIKey, "perspective-api-key", env("PERSPECTIVE_API_KEY", ""), "Perspective API key; moderation is skipped when empty")
	fs.DurationVar(&cfg.ModerationTimeout, "moderation-timeout", envDuration(getenv("MODERATION_TIMEOUT"), 3*time.Second), "Moderation request timeout")
	fs.StringVar(&origins, "allowed-origins", env("ALLOWED_ORIGINS", "http://localhost:3000"), "Comma-separated CORS origins")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "Log level")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", envBool(getenv("LOG_PRETTY"), false), "Human-readable logs")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", envDuration(getenv("SHUTDOWN_TIMEOUT"), 10*time.Second), "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageInMemory, StorageSQLite:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage)
	}

	switch c.Sessions {
	case SessionsMemory:
	case SessionsRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR must be set for redis sessions")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Sessions)
	}

	if c.IdentityHeader == "" {
		return errors.New("identity header must not be empty")
	}
	return nil
}

func envBool(v string, def bool) bool {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

func envInt(v string, def int) int {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func envDuration(v string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
