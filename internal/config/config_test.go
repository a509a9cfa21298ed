package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	clearFlowexecEnv(t)

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.MaxParallelNodes)
	assert.Equal(t, 5*time.Minute, cfg.NodeExecutionTimeout)
	assert.Equal(t, []string{"openai", "anthropic"}, cfg.ProviderFallback)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearFlowexecEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_PARALLEL_NODES", "8")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("PROVIDER_FALLBACK_CHAIN", "anthropic,openai,openrouter")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 8, cfg.MaxParallelNodes)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, []string{"anthropic", "openai", "openrouter"}, cfg.ProviderFallback)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	clearFlowexecEnv(t)
	t.Setenv("MAX_PARALLEL_NODES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 4, cfg.MaxParallelNodes)
}

func TestGetPortInt(t *testing.T) {
	cfg := &Config{Port: "1234"}
	assert.Equal(t, 1234, cfg.GetPortInt())
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a,b,c"))
	assert.Equal(t, []string{"a"}, splitCSV("a"))
	assert.Empty(t, splitCSV(""))
}

func clearFlowexecEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "LOG_LEVEL", "LOG_PRETTY", "DATABASE_DSN",
		"EXECUTION_QUEUE_REDIS_URL", "EXECUTION_QUEUE_STREAM", "EXECUTION_QUEUE_GROUP", "WORKER_ID",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_RESPONSES_API_KEY", "PROVIDER_FALLBACK_CHAIN",
		"MAX_PARALLEL_NODES", "NODE_EXECUTION_TIMEOUT", "WORKFLOW_EXECUTION_TIMEOUT",
		"DEFAULT_MAX_RETRIES", "DEFAULT_RETRY_DELAY",
		"CIRCUIT_FAILURE_THRESHOLD", "CIRCUIT_COOLDOWN",
		"TOOL_SERVER_HANDSHAKE_TIMEOUT", "TOOL_SERVER_REQUEST_TIMEOUT",
		"TOOL_SERVER_QUIESCENCE", "TOOL_SERVER_HEALTH_INTERVAL", "TOOL_CATALOG_PATH",
	}
	for _, k := range keys {
		original, had := os.LookupEnv(k)
		os.Unsetenv(k)
		if had {
			t.Cleanup(func() { os.Setenv(k, original) })
		}
	}
}
