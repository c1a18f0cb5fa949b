package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable the dialer reads from the environment.
type Config struct {
	// Platform REST API
	PlatformBaseURL string `env:"PLATFORM_BASE_URL,required"`
	PlatformAPIKey  string `env:"PLATFORM_API_KEY,required"`

	// Media service websocket
	MediaWSURL string `env:"MEDIA_WS_URL"`

	// Caller identity
	InitiatorName  string `env:"INITIATOR_NAME" envDefault:"dialer"`
	CallerIDNumber string `env:"CALLER_ID_NUMBER"`

	// Reconciliation timing
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"8s"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"3s"`
	HistoryLimit int           `env:"HISTORY_LIMIT" envDefault:"100"`

	// History persistence: memory, redis or postgres
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	PostgresDSN    string `env:"POSTGRES_DSN"`

	// Agent participant naming convention on the media platform
	AgentNamePrefix string `env:"AGENT_NAME_PREFIX" envDefault:"sip"`
	AgentNameSuffix string `env:"AGENT_NAME_SUFFIX" envDefault:"agent"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

// Load reads ENV_FILE (falling back to .env) and parses the environment into
// a Config. A missing env file is not an error; missing required variables
// are.
func Load() (*Config, error) {
	loadEnvFile()

	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	switch cfg.StorageBackend {
	case "memory", "redis":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("STORAGE_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func loadEnvFile() {
	if envfile := os.Getenv("ENV_FILE"); envfile != "" {
		_ = godotenv.Load(envfile)
		return
	}
	_ = godotenv.Load()
}
