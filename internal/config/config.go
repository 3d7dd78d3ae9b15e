package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// DefaultResources are the OmniTrack belongings synchronized out of the box.
var DefaultResources = []string{"trackers", "items", "fields", "groups", "triggers"}

var resourceName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

type Config struct {
	ServerPort   string `env:"SERVER_PORT,default=8080"`
	StoreBackend string `env:"STORE_BACKEND,default=memory"`

	DatabaseURL   string `env:"DATABASE_URL"`
	RunMigrations bool   `env:"RUN_MIGRATIONS,default=true"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE,default=omnitrack"`
	RedisURL      string `env:"REDIS_URL"`

	ActivityTTLHours int    `env:"ACTIVITY_TTL_HOURS,default=720"`
	JWTSecret        string `env:"JWT_SECRET"`

	// Comma separated lists.
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
	SyncResources      string `env:"SYNC_RESOURCES"`

	MaxPushBatch           int `env:"MAX_PUSH_BATCH,default=1000"`
	RequestTimeoutSeconds  int `env:"REQUEST_TIMEOUT_SECONDS,default=30"`
	ShutdownTimeoutSeconds int `env:"SHUTDOWN_TIMEOUT_SECONDS,default=10"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

func LoadConfig() (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return loadFrom(es)
}

func loadFrom(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	for _, name := range c.Resources() {
		if !resourceName.MatchString(name) {
			return fmt.Errorf("invalid resource name %q in SYNC_RESOURCES", name)
		}
		// /api/sync/activity shares the resource path segment.
		if name == "sync" {
			return errors.New("SYNC_RESOURCES must not contain \"sync\"")
		}
	}

	if c.MaxPushBatch < 0 {
		return errors.New("MAX_PUSH_BATCH must not be negative")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}
	if c.ActivityTTLHours <= 0 {
		return errors.New("ACTIVITY_TTL_HOURS must be positive")
	}
	return nil
}

// Resources returns the configured resource names without duplicates.
func (c *Config) Resources() []string {
	names := splitList(c.SyncResources)
	if len(names) == 0 {
		return append([]string(nil), DefaultResources...)
	}
	return names
}

// AllowedOrigins defaults to every origin.
func (c *Config) AllowedOrigins() []string {
	origins := splitList(c.CORSAllowedOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) ActivityTTL() time.Duration {
	return time.Duration(c.ActivityTTLHours) * time.Hour
}

// Helper: split a comma separated list, dropping blanks and repeats
func splitList(value string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}
