package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/api"
	"github.com/Mindburn-Labs/accord/pkg/auth"
	"github.com/Mindburn-Labs/accord/pkg/config"
	"github.com/Mindburn-Labs/accord/pkg/engine"
	"github.com/Mindburn-Labs/accord/pkg/executor"
	"github.com/Mindburn-Labs/accord/pkg/guard"
	"github.com/Mindburn-Labs/accord/pkg/judge"
	"github.com/Mindburn-Labs/accord/pkg/ledger"
	"github.com/Mindburn-Labs/accord/pkg/limiter"
	"github.com/Mindburn-Labs/accord/pkg/observability"
	"github.com/Mindburn-Labs/accord/pkg/profile"
	sqlledger "github.com/Mindburn-Labs/accord/pkg/store/ledger"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (cgo-free)
)

//nolint:gocognit,gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%sAccord Engine starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Telemetry. A no-op provider unless an OTLP endpoint is configured.
	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "accord-engine",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       cfg.Environment == "development",
	})
	if err != nil {
		log.Fatalf("Failed to init telemetry: %v", err)
	}
	if cfg.OTLPEndpoint != "" {
		log.Printf("[accord] telemetry: exporting to %s", cfg.OTLPEndpoint)
	}

	// Result ledger.
	var (
		led      ledger.Ledger
		verifier api.ChainVerifier
	)
	switch cfg.LedgerDriver {
	case "", "memory":
		mem := ledger.NewMemoryLedger()
		led = mem
		verifier = api.VerifierFunc(func(context.Context) (bool, string, error) {
			ok, detail := mem.Verify()
			return ok, detail, nil
		})
		log.Println("[accord] ledger: memory (results are lost on restart)")
	case "sqlite", "postgres":
		dsn := cfg.LedgerDSN
		if dsn == "" {
			if cfg.LedgerDriver == "postgres" {
				log.Fatalf("ACCORD_LEDGER_DSN is required for the postgres driver")
			}
			dsn = "accord.db"
		}
		db, err := sql.Open(cfg.LedgerDriver, dsn)
		if err != nil {
			log.Fatalf("Failed to open ledger database: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Ledger database ping failed: %v", err)
		}
		sl := sqlledger.NewSQLLedger(db)
		if err := sl.Init(ctx); err != nil {
			log.Fatalf("Failed to init ledger schema: %v", err)
		}
		led = sl
		verifier = sl
		log.Printf("[accord] ledger: %s", cfg.LedgerDriver)
	default:
		log.Fatalf("Unknown ledger driver %q", cfg.LedgerDriver)
	}

	// Outbound call budgets for the executor and judge endpoints. Redis
	// makes the budgets hold across engine instances.
	var callStore limiter.Store
	if cfg.ExecutorRPM > 0 || cfg.JudgeRPM > 0 || cfg.RedisAddr != "" {
		if cfg.RedisAddr != "" {
			callStore = limiter.NewRedisStore(cfg.RedisAddr, "", 0)
			log.Printf("[accord] call budgets: redis (%s)", cfg.RedisAddr)
		} else {
			callStore = limiter.NewInMemoryStore()
			log.Println("[accord] call budgets: in-memory")
		}
	}

	// Work unit. A wasm module path switches production from the HTTP
	// executor to a local hermetic module.
	var unit executor.WorkUnit
	if cfg.ExecutorWASM != "" {
		wasmBytes, err := os.ReadFile(cfg.ExecutorWASM)
		if err != nil {
			log.Fatalf("Failed to read wasm module: %v", err)
		}
		wu, err := executor.NewWASMUnit(ctx, wasmBytes, int64(cfg.ExecutorWASMMemMB)*1024*1024, cfg.ReplicaTimeout)
		if err != nil {
			log.Fatalf("Failed to init wasm executor: %v", err)
		}
		defer func() { _ = wu.Close(ctx) }()
		unit = wu
		log.Printf("[accord] executor: wasm (%s)", cfg.ExecutorWASM)
	} else {
		hu, err := executor.NewHTTPWorkUnit(cfg.ExecutorURL, cfg.ExecutorAPIKey, cfg.ExecutorModel, cfg.ReplicaTimeout)
		if err != nil {
			log.Fatalf("Failed to init executor: %v", err)
		}
		if cfg.ExecutorRPM > 0 {
			hu.Limiter = callStore
			hu.Budget = limiter.CallBudget{RPM: cfg.ExecutorRPM, Burst: cfg.ExecutorBurst}
		}
		unit = hu
		log.Printf("[accord] executor: %s", cfg.ExecutorURL)
	}

	jdg, err := judge.NewOpenAIJudge(cfg.JudgeURL, cfg.JudgeAPIKey, cfg.JudgeModel, cfg.JudgeTimeout)
	if err != nil {
		log.Fatalf("Failed to init judge: %v", err)
	}
	if cfg.JudgeRPM > 0 {
		jdg.Limiter = callStore
		jdg.Budget = limiter.CallBudget{RPM: cfg.JudgeRPM, Burst: cfg.JudgeBurst}
	}
	log.Printf("[accord] judge: %s", cfg.JudgeURL)

	// Admission guard.
	var admitter engine.Admitter
	if len(cfg.GuardRules) > 0 {
		g, err := guard.New(cfg.GuardRules)
		if err != nil {
			log.Fatalf("Failed to compile guard rules: %v", err)
		}
		admitter = g
		log.Printf("[accord] guard: %d rules", len(cfg.GuardRules))
	}

	// Agreement profiles.
	var profiles map[string]*profile.Profile
	if cfg.ProfileDir != "" {
		profiles, err = profile.LoadDir(cfg.ProfileDir, version)
		if err != nil {
			log.Fatalf("Failed to load profiles: %v", err)
		}
		log.Printf("[accord] profiles: %d loaded from %s", len(profiles), cfg.ProfileDir)
	}

	eng, err := engine.New(engine.Config{
		Unit:           unit,
		Judge:          jdg,
		Ledger:         led,
		Guard:          admitter,
		Observability:  telemetry,
		ReplicaTimeout: cfg.ReplicaTimeout,
		JudgeTimeout:   cfg.JudgeTimeout,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("Failed to init engine: %v", err)
	}
	log.Println("[accord] engine: ready")

	tracker := observability.NewLadderTracker(observability.LadderTarget{
		MinAcceptanceRate: 0.9,
		Window:            time.Hour,
	})
	svc := api.NewService(eng, verifier, cfg.DefaultReplicas).
		WithTracker(tracker).
		WithProfiles(profiles)

	mux := http.NewServeMux()
	svc.Routes(mux)

	// Middleware, innermost first. Auth wraps the principal budget so the
	// budget can scope by principal.
	var handler http.Handler = mux
	if cfg.AuthSeed != "" {
		keySet, err := auth.NewSeedKeySet(cfg.AuthSeed)
		if err != nil {
			log.Fatalf("Failed to init auth keys: %v", err)
		}
		principalStore := callStore
		if principalStore == nil {
			principalStore = limiter.NewInMemoryStore()
		}
		budget := limiter.CallBudget{RPM: int(cfg.RateRPS * 60), Burst: cfg.RateBurst}
		handler = auth.RateLimitMiddleware(principalStore, budget)(handler)
		handler = auth.NewMiddleware(auth.NewJWTValidator(keySet))(handler)
		log.Println("[accord] auth: bearer tokens required")
	} else {
		log.Println("[accord] auth: disabled (set ACCORD_AUTH_SEED to enable)")
	}
	handler = api.NewClientRateLimiter(cfg.RateRPS, cfg.RateBurst).Middleware(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[accord] ready: http://localhost:%s", cfg.Port)
		log.Println("[accord] press ctrl+c to stop")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[accord] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[accord] shutdown: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("[accord] telemetry shutdown: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
