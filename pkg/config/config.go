// Package config loads engine configuration from ACCORD_* environment
// variables with development defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Result ledger. Driver is one of "memory", "sqlite" or "postgres";
	// the DSN is required for the SQL drivers.
	LedgerDriver string
	LedgerDSN    string

	// Replica executor and judge, both OpenAI-compatible endpoints.
	ExecutorURL    string
	ExecutorAPIKey string
	ExecutorModel  string
	JudgeURL       string
	JudgeAPIKey    string
	JudgeModel     string

	// ExecutorWASM, when set, produces replicas from the WebAssembly module
	// at this path instead of the HTTP executor. The module is hermetic:
	// no filesystem, no network, stdio only.
	ExecutorWASM      string
	ExecutorWASMMemMB int

	DefaultReplicas int
	ReplicaTimeout  time.Duration
	JudgeTimeout    time.Duration

	// Outbound call budgets (requests per minute). Zero disables the budget.
	ExecutorRPM   int
	ExecutorBurst int
	JudgeRPM      int
	JudgeBurst    int
	// RedisAddr switches the budget store from in-memory to Redis so
	// budgets hold across instances. Empty keeps the in-memory store.
	RedisAddr string

	// GuardRules are CEL admission rules, semicolon separated.
	GuardRules []string

	// ProfileDir holds YAML agreement profiles. Empty means none.
	ProfileDir string

	// AuthSeed is a 64-char hex Ed25519 seed. Empty disables API auth.
	AuthSeed string

	// Per-client HTTP rate limit.
	RateRPS   float64
	RateBurst int

	// OTLPEndpoint enables telemetry export when set.
	OTLPEndpoint string
	Environment  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getEnv("ACCORD_PORT", "8080"),
		LogLevel: getEnv("ACCORD_LOG_LEVEL", "INFO"),

		LedgerDriver: getEnv("ACCORD_LEDGER_DRIVER", "memory"),
		LedgerDSN:    os.Getenv("ACCORD_LEDGER_DSN"),

		// Default to LM Studio local.
		ExecutorURL:    getEnv("ACCORD_EXECUTOR_URL", "http://localhost:1234/v1/chat/completions"),
		ExecutorAPIKey: os.Getenv("ACCORD_EXECUTOR_API_KEY"),
		ExecutorModel:  os.Getenv("ACCORD_EXECUTOR_MODEL"),
		JudgeURL:       getEnv("ACCORD_JUDGE_URL", "http://localhost:1234/v1/chat/completions"),
		JudgeAPIKey:    os.Getenv("ACCORD_JUDGE_API_KEY"),
		JudgeModel:     os.Getenv("ACCORD_JUDGE_MODEL"),

		ExecutorWASM:      os.Getenv("ACCORD_EXECUTOR_WASM"),
		ExecutorWASMMemMB: getInt("ACCORD_EXECUTOR_WASM_MEM_MB", 64),

		DefaultReplicas: getInt("ACCORD_DEFAULT_REPLICAS", 3),
		ReplicaTimeout:  getDuration("ACCORD_REPLICA_TIMEOUT", 30*time.Second),
		JudgeTimeout:    getDuration("ACCORD_JUDGE_TIMEOUT", 30*time.Second),

		ExecutorRPM:   getInt("ACCORD_EXECUTOR_RPM", 0),
		ExecutorBurst: getInt("ACCORD_EXECUTOR_BURST", 0),
		JudgeRPM:      getInt("ACCORD_JUDGE_RPM", 0),
		JudgeBurst:    getInt("ACCORD_JUDGE_BURST", 0),
		RedisAddr:     os.Getenv("ACCORD_REDIS_ADDR"),

		GuardRules: splitRules(os.Getenv("ACCORD_GUARD_RULES")),

		ProfileDir: os.Getenv("ACCORD_PROFILE_DIR"),

		AuthSeed: os.Getenv("ACCORD_AUTH_SEED"),

		RateRPS:   getFloat("ACCORD_RATE_RPS", 10),
		RateBurst: getInt("ACCORD_RATE_BURST", 20),

		OTLPEndpoint: os.Getenv("ACCORD_OTLP_ENDPOINT"),
		Environment:  getEnv("ACCORD_ENV", "development"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// splitRules splits semicolon-separated CEL rules. Semicolons rather than
// commas: commas appear inside CEL list literals.
func splitRules(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	rules := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, p)
		}
	}
	return rules
}
