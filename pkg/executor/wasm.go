package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASMUnit runs a compiled WebAssembly module as the work unit. The module
// reads params from stdin and writes its value to stdout.
// Deny-by-default: no filesystem, no network, no environment variables.
type WASMUnit struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

// NewWASMUnit compiles wasmBytes once; every Produce instantiates a fresh
// module so concurrent replicas never share linear memory.
func NewWASMUnit(ctx context.Context, wasmBytes []byte, memoryLimitBytes int64, timeout time.Duration) (*WASMUnit, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if memoryLimitBytes > 0 {
		// wazero measures memory in pages (64KB each)
		pages := uint32(memoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("executor: wasm compile: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WASMUnit{runtime: r, compiled: compiled, timeout: timeout}, nil
}

func (u *WASMUnit) Produce(ctx context.Context, params string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	// Anonymous module name: replicas instantiate concurrently and named
	// modules would collide inside one runtime.
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_start").
		WithStdin(strings.NewReader(params)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := u.runtime.InstantiateModule(ctx, u.compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", &WorkFailure{Kind: FailureTimeout, Err: ctx.Err()}
		}
		return "", &WorkFailure{Kind: FailureBackend, Err: fmt.Errorf("wasm instantiate: %w", err)}
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return "", &WorkFailure{Kind: FailureBackend, Err: fmt.Errorf("wasm stderr: %s", stderr.String())}
	}
	value := strings.TrimSpace(stdout.String())
	if value == "" {
		return "", &WorkFailure{Kind: FailureMalformed, Err: errors.New("wasm produced no output")}
	}
	return value, nil
}

// Close shuts down the wazero runtime, freeing all resources.
func (u *WASMUnit) Close(ctx context.Context) error {
	return u.runtime.Close(ctx)
}
