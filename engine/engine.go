package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
)

// DefaultHostModule is the import module name foreign libraries use for
// host functions.
const DefaultHostModule = "scriptcore"

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	EnableThreads bool

	// WASI instantiates WASI preview1 before the first library that imports it.
	WASI bool

	// HostModule names the host module. Empty means DefaultHostModule.
	HostModule string

	// SearchPaths are tried in order for relative library paths.
	SearchPaths []string
}

// Engine owns a wazero runtime and the host module shared by every library
// it loads.
type Engine struct {
	runtime  wazero.Runtime
	cfg      Config
	hostName string

	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool

	hostMu    sync.Mutex
	hostFuncs []hostFunc
	hostSeen  map[string]struct{}
	host      api.Module

	seq atomic.Uint64
}

type hostFunc struct {
	name    string
	fn      api.GoModuleFunc
	params  []api.ValueType
	results []api.ValueType
}

// New creates an engine. A nil cfg uses defaults.
func New(ctx context.Context, cfg *Config) *Engine {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if c.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	name := c.HostModule
	if name == "" {
		name = DefaultHostModule
	}
	return &Engine{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:      c,
		hostName: name,
		hostSeen: make(map[string]struct{}),
	}
}

// Runtime returns the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime { return e.runtime }

// HostModule returns the name libraries import host functions from.
func (e *Engine) HostModule() string { return e.hostName }

// Export adds a host function. Functions must be exported before the first
// library is instantiated; the host module is sealed at that point.
func (e *Engine) Export(name string, fn api.GoModuleFunc, params, results []api.ValueType) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if e.host != nil {
		return errors.New(errors.PhaseBind, errors.KindClosed).
			Detail("host module %s already instantiated, cannot export %s", e.hostName, name).Build()
	}
	if _, dup := e.hostSeen[name]; dup {
		return errors.New(errors.PhaseBind, errors.KindInvalidInput).
			Detail("host function %s already exported", name).Build()
	}
	e.hostSeen[name] = struct{}{}
	e.hostFuncs = append(e.hostFuncs, hostFunc{name: name, fn: fn, params: params, results: results})

	Logger().Debug("host function exported",
		diag.PriorityNative.Field(),
		zap.String("module", e.hostName),
		zap.String("name", name),
		zap.Int("params", len(params)),
		zap.Int("results", len(results)))
	return nil
}

// Exported reports whether a host function called name exists.
func (e *Engine) Exported(name string) bool {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()
	_, ok := e.hostSeen[name]
	return ok
}

func (e *Engine) sealHost(ctx context.Context) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if e.host != nil || len(e.hostFuncs) == 0 {
		return nil
	}
	b := e.runtime.NewHostModuleBuilder(e.hostName)
	for _, f := range e.hostFuncs {
		b = b.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.params, f.results).
			Export(f.name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindBindFailure, err, "instantiate host module "+e.hostName)
	}
	e.host = mod
	return nil
}

// InitWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}
	if e.runtime.Module(wasiModule) == nil {
		if _, err := instantiateWASI(ctx, e.runtime); err != nil && e.runtime.Module(wasiModule) == nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindBindFailure, err, "instantiate WASI")
		}
	}
	e.wasiInitDone.Store(true)
	return nil
}

// Resolve maps a library path to a readable file, trying the search paths
// for relative paths.
func (e *Engine) Resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", errors.LibraryNotFound(path, err)
		}
		return path, nil
	}
	var errs error
	for _, dir := range append([]string{""}, e.cfg.SearchPaths...) {
		candidate := filepath.Join(dir, path)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		errs = multierr.Append(errs, err)
	}
	return "", errors.LibraryNotFound(path, errs)
}

// LoadFile resolves and compiles the library at path.
func (e *Engine) LoadFile(ctx context.Context, path string) (*Module, error) {
	resolved, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errors.LibraryNotFound(resolved, err)
	}
	return e.Compile(ctx, filepath.Base(resolved), data)
}

// Compile validates and compiles a core module.
func (e *Engine) Compile(ctx context.Context, name string, wasm []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compile "+name)
	}

	exports := compiled.ExportedFunctions()
	Logger().Debug("module compiled",
		diag.PriorityNative.Field(),
		zap.String("module", name),
		zap.Int("exports", len(exports)))

	return &Module{
		engine:   e,
		name:     name,
		compiled: compiled,
		exports:  exports,
	}, nil
}

// Close closes the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
