package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/accord/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ACCORD_PORT", "")
	t.Setenv("ACCORD_LOG_LEVEL", "")
	t.Setenv("ACCORD_LEDGER_DRIVER", "")
	t.Setenv("ACCORD_EXECUTOR_URL", "")
	t.Setenv("ACCORD_DEFAULT_REPLICAS", "")
	t.Setenv("ACCORD_GUARD_RULES", "")
	t.Setenv("ACCORD_AUTH_SEED", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.LedgerDriver)
	assert.Contains(t, cfg.ExecutorURL, "localhost") // Default is local
	assert.Equal(t, 3, cfg.DefaultReplicas)
	assert.Equal(t, 30*time.Second, cfg.ReplicaTimeout)
	assert.Zero(t, cfg.ExecutorRPM)
	assert.Empty(t, cfg.GuardRules)
	assert.Empty(t, cfg.AuthSeed)
	assert.Equal(t, "development", cfg.Environment)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ACCORD_PORT", "9090")
	t.Setenv("ACCORD_LOG_LEVEL", "DEBUG")
	t.Setenv("ACCORD_LEDGER_DRIVER", "postgres")
	t.Setenv("ACCORD_LEDGER_DSN", "postgres://production:5432/accord")
	t.Setenv("ACCORD_EXECUTOR_URL", "http://remote-llm:8080/v1/chat/completions")
	t.Setenv("ACCORD_EXECUTOR_MODEL", "qwen2.5-7b")
	t.Setenv("ACCORD_DEFAULT_REPLICAS", "5")
	t.Setenv("ACCORD_REPLICA_TIMEOUT", "10s")
	t.Setenv("ACCORD_EXECUTOR_RPM", "120")
	t.Setenv("ACCORD_EXECUTOR_BURST", "20")
	t.Setenv("ACCORD_REDIS_ADDR", "redis:6379")
	t.Setenv("ACCORD_RATE_RPS", "2.5")
	t.Setenv("ACCORD_EXECUTOR_WASM", "/opt/accord/unit.wasm")
	t.Setenv("ACCORD_EXECUTOR_WASM_MEM_MB", "128")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.LedgerDriver)
	assert.Equal(t, "postgres://production:5432/accord", cfg.LedgerDSN)
	assert.Equal(t, "http://remote-llm:8080/v1/chat/completions", cfg.ExecutorURL)
	assert.Equal(t, "qwen2.5-7b", cfg.ExecutorModel)
	assert.Equal(t, 5, cfg.DefaultReplicas)
	assert.Equal(t, 10*time.Second, cfg.ReplicaTimeout)
	assert.Equal(t, 120, cfg.ExecutorRPM)
	assert.Equal(t, 20, cfg.ExecutorBurst)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2.5, cfg.RateRPS)
	assert.Equal(t, "/opt/accord/unit.wasm", cfg.ExecutorWASM)
	assert.Equal(t, 128, cfg.ExecutorWASMMemMB)
}

// TestLoad_GuardRules verifies semicolon splitting and whitespace trimming.
func TestLoad_GuardRules(t *testing.T) {
	t.Setenv("ACCORD_GUARD_RULES", `replicas <= 9; params != "" ; `)

	cfg := config.Load()

	assert.Equal(t, []string{"replicas <= 9", `params != ""`}, cfg.GuardRules)
}

// TestLoad_MalformedNumbersFallBack verifies that unparsable numeric and
// duration values fall back to defaults rather than failing the boot.
func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("ACCORD_DEFAULT_REPLICAS", "three")
	t.Setenv("ACCORD_REPLICA_TIMEOUT", "soon")
	t.Setenv("ACCORD_RATE_RPS", "fast")

	cfg := config.Load()

	assert.Equal(t, 3, cfg.DefaultReplicas)
	assert.Equal(t, 30*time.Second, cfg.ReplicaTimeout)
	assert.Equal(t, 10.0, cfg.RateRPS)
}
