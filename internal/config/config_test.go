package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"PORT", "STORE_DRIVER", "PRESENCE_INTERVAL", "PRESENCE_EXPIRY", "REALTIME_CHANNEL", "REALTIME_TRANSPORT", "API_BASE_URL"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "5000", cfg.ServerPort)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.PresenceInterval)
	assert.Equal(t, 10*time.Minute, cfg.PresenceExpiry)
	assert.Equal(t, "aura_realtime_network", cfg.RealtimeChannel)
	assert.Equal(t, TransportNATS, cfg.RealtimeTransport, "separate peer processes share a channel by default")
	assert.Equal(t, "http://localhost:5000/api", cfg.APIBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("PRESENCE_INTERVAL", "500ms")
	t.Setenv("RATE_LIMIT_REQUESTS", "7")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("STORE_DRIVER", StoreSQLite)
	t.Setenv("REALTIME_TRANSPORT", TransportLocal)

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 500*time.Millisecond, cfg.PresenceInterval)
	assert.Equal(t, 7, cfg.RateLimitRequests)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, TransportLocal, cfg.RealtimeTransport)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRESENCE_EXPIRY", "ten minutes")
	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	t.Setenv("TRACING_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 10*time.Minute, cfg.PresenceExpiry)
	assert.Equal(t, 120, cfg.RateLimitRequests)
	assert.False(t, cfg.TracingEnabled)
}

func TestLLMKey(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		provider string
	}{
		{"none", Config{DefaultLLM: "anthropic"}, ""},
		{"preferred", Config{DefaultLLM: "openai", OpenAIAPIKey: "o", AnthropicAPIKey: "a"}, "openai"},
		{"fallback", Config{DefaultLLM: "openai", AnthropicAPIKey: "a"}, "anthropic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := tt.cfg.LLMKey()
			assert.Equal(t, tt.provider, p)
		})
	}
}
