// Package config provides environment configuration for the persistence
// server and the peer client.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StorePostgres  = "postgres"
	StoreJetStream = "jetstream"
)

// Realtime transports accepted by REALTIME_TRANSPORT. TransportLocal only
// reaches endpoints in the same process.
const (
	TransportLocal = "local"
	TransportNATS  = "nats"
)

// Snapshot backends accepted by SNAPSHOT_BACKEND.
const (
	SnapshotFile  = "file"
	SnapshotRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Realtime
	RealtimeTransport string
	RealtimeChannel   string

	// Presence
	PresenceInterval      time.Duration
	PresenceSweepInterval time.Duration
	PresenceExpiry        time.Duration
	ScanWindow            time.Duration

	// Persistence
	APIBaseURL  string
	StoreDriver string
	DatabaseURL string

	// Snapshots
	SnapshotBackend string
	SnapshotDir     string
	RedisURL        string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string
	LLMBaseURL      string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Metrics
	MetricsAddr string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory, if present, fills variables that are not already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "5000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Realtime
		RealtimeTransport: getEnv("REALTIME_TRANSPORT", TransportNATS),
		RealtimeChannel:   getEnv("REALTIME_CHANNEL", "aura_realtime_network"),

		// Presence
		PresenceInterval:      getDurationEnv("PRESENCE_INTERVAL", 3*time.Second),
		PresenceSweepInterval: getDurationEnv("PRESENCE_SWEEP_INTERVAL", 10*time.Second),
		PresenceExpiry:        getDurationEnv("PRESENCE_EXPIRY", 10*time.Minute),
		ScanWindow:            getDurationEnv("SCAN_WINDOW", 3*time.Second),

		// Persistence
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:5000/api"),
		StoreDriver: getEnv("STORE_DRIVER", StoreMemory),
		DatabaseURL: getEnv("DATABASE_URL", "aura.db"),

		// Snapshots
		SnapshotBackend: getEnv("SNAPSHOT_BACKEND", SnapshotFile),
		SnapshotDir:     getEnv("SNAPSHOT_DIR", ".aura"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Metrics
		MetricsAddr: getEnv("METRICS_ADDR", ""),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LLMKey returns the API key for the configured default provider, falling
// back to whichever key is present.
func (c *Config) LLMKey() (provider, key string) {
	switch {
	case c.DefaultLLM == "openai" && c.OpenAIAPIKey != "":
		return "openai", c.OpenAIAPIKey
	case c.DefaultLLM == "anthropic" && c.AnthropicAPIKey != "":
		return "anthropic", c.AnthropicAPIKey
	case c.AnthropicAPIKey != "":
		return "anthropic", c.AnthropicAPIKey
	case c.OpenAIAPIKey != "":
		return "openai", c.OpenAIAPIKey
	}
	return "", ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
