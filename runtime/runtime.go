package runtime

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/callback"
	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/engine"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/native"
)

// Runtime wires the execution core together: an engine with its host
// module, the library registry, one interpreter, and at most one bound
// foreign library.
type Runtime struct {
	cfg      Config
	engine   *engine.Engine
	registry *native.Registry
	interp   *interp.Interpreter
	flags    callback.Flags

	mu       sync.Mutex
	bindings *native.Bindings
	exports  map[string]*callback.Adapter
	closed   bool
}

// New creates a runtime. A nil cfg uses DefaultConfig. The interpreter is
// owned by the thread pinned on ctx.
func New(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	flags, err := cfg.CallbackFlags()
	if err != nil {
		return nil, err
	}

	eng := engine.New(ctx, cfg.engineConfig())
	reg, err := native.NewRegistry(eng)
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}

	r := &Runtime{
		cfg:      *cfg,
		engine:   eng,
		registry: reg,
		interp:   interp.New(ctx, interp.Options{QueueSize: cfg.Script.QueueSize}),
		flags:    flags,
		exports:  make(map[string]*callback.Adapter),
	}
	r.registerCommands()
	return r, nil
}

func (r *Runtime) Config() Config { return r.cfg }

func (r *Runtime) Engine() *engine.Engine { return r.engine }

func (r *Runtime) Registry() *native.Registry { return r.registry }

func (r *Runtime) Interpreter() *interp.Interpreter { return r.interp }

// Bindings returns the bound library, or nil before Load and after the
// library exited.
func (r *Runtime) Bindings() *native.Bindings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings
}

// Callback returns the callback registered under name, creating it with
// the configured default flags when flags is zero.
func (r *Runtime) Callback(name string, args []string, flags callback.Flags, opts ...callback.Option) (*callback.Callback, error) {
	if flags == 0 {
		flags = r.flags
	}
	return callback.Create(r.interp, name, args, flags, opts...)
}

// Export adapts cb to shape and exports it into the host module under
// name. Exports must happen before Load.
func (r *Runtime) Export(name string, cb *callback.Callback, shape callback.Shape, sig callback.Signature) (*callback.Adapter, error) {
	a, err := cb.GetAdapter(shape, sig.Return, sig.Params, sig.ParamFlags, true)
	if err != nil {
		return nil, err
	}
	if err := a.Export(r.engine, name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.exports[name] = a
	r.mu.Unlock()
	return a, nil
}

// ExportFunc exports cb for the Go function type of fn, one of the shape
// function types of the callback package.
func (r *Runtime) ExportFunc(name string, cb *callback.Callback, fn any) (*callback.Adapter, error) {
	a, err := cb.AdapterFor(reflect.TypeOf(fn))
	if err != nil {
		return nil, err
	}
	if err := a.Export(r.engine, name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.exports[name] = a
	r.mu.Unlock()
	return a, nil
}

// Load binds the library at path, or the configured library when path is
// empty, and installs the exit handler when configured.
func (r *Runtime) Load(ctx context.Context, path string) (*native.Bindings, error) {
	if path == "" {
		path = r.cfg.Library.Path
	}
	if path == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "no library configured")
	}
	lib, err := r.registry.Load(ctx, path, r.cfg.loadFlags())
	if err != nil {
		return nil, err
	}
	return r.bind(ctx, lib)
}

// LoadBytes binds a library held in memory.
func (r *Runtime) LoadBytes(ctx context.Context, name string, wasm []byte) (*native.Bindings, error) {
	lib, err := r.registry.LoadBytes(ctx, name, wasm, r.cfg.loadFlags())
	if err != nil {
		return nil, err
	}
	return r.bind(ctx, lib)
}

func (r *Runtime) bind(ctx context.Context, lib *native.Library) (*native.Bindings, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.registry.Release(ctx, lib)
		return nil, errors.Closed(errors.PhaseLoad, "runtime")
	}
	if r.bindings != nil {
		r.mu.Unlock()
		r.registry.Release(ctx, lib)
		return nil, errors.InvalidInput(errors.PhaseLoad, "a library is already bound to "+r.bindings.Library().Path())
	}
	r.mu.Unlock()

	b, err := native.Create(ctx, lib, lib.TablePointer(r.cfg.Library.TableSymbol), r.cfg.loadFlags())
	// The bindings hold their own reference from here on.
	if _, relErr := r.registry.Release(ctx, lib); relErr != nil {
		err = multierr.Append(err, relErr)
	}
	if err != nil {
		if b != nil {
			b.Dispose(ctx)
		}
		return nil, err
	}

	b.OnExit(r.onExit)
	if r.cfg.Library.ExitHandler {
		if err := b.SetExitHandler(ctx); err != nil {
			return nil, multierr.Append(err, b.Dispose(ctx))
		}
	}

	r.mu.Lock()
	r.bindings = b
	r.mu.Unlock()

	Logger().Info("library bound",
		diag.PriorityNative.Field(),
		zap.String("status", b.Status()))
	return b, nil
}

// onExit runs on the owning thread when the foreign runtime shuts down.
func (r *Runtime) onExit(ctx context.Context, b *native.Bindings) error {
	r.mu.Lock()
	if r.bindings == b {
		r.bindings = nil
	}
	r.mu.Unlock()

	n := r.interp.Contexts().ReleaseThread(ctx)
	Logger().Info("foreign runtime exited",
		diag.PriorityCleanup.Field(),
		zap.String("library", b.Library().Path()),
		zap.Int("contexts", n))
	return nil
}

// Unload unregisters the exit handler, finalizes the foreign runtime and
// releases the library.
func (r *Runtime) Unload(ctx context.Context) error {
	r.mu.Lock()
	b := r.bindings
	r.bindings = nil
	r.mu.Unlock()
	if b == nil {
		return nil
	}

	var errs error
	errs = multierr.Append(errs, b.UnsetExitHandler(ctx))
	errs = multierr.Append(errs, b.Finalize(ctx))
	errs = multierr.Append(errs, b.Dispose(ctx))
	return errs
}

// Eval evaluates script on the calling thread.
func (r *Runtime) Eval(ctx context.Context, script string) (interp.Result, error) {
	ic, err := r.interp.Contexts().Interactive(ctx, true)
	if err != nil {
		return interp.Result{}, err
	}
	ic.AddHistory(script)
	return r.interp.Eval(ctx, script)
}

// Pause waits until done reports true, polling at the configured
// interval. Cancelling the interpreter ends the wait early.
func (r *Runtime) Pause(ctx context.Context, done func() bool) error {
	ic, err := r.interp.Contexts().Interactive(ctx, true)
	if err != nil {
		return err
	}
	return ic.Pause(ctx, r.cfg.Script.PauseInterval, done)
}

// Exports returns the exported callback adapters by host function name.
func (r *Runtime) Exports() map[string]*callback.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*callback.Adapter, len(r.exports))
	for k, v := range r.exports {
		out[k] = v
	}
	return out
}

// Close unloads the library, disposes the interpreter and closes the
// engine. Later calls are no-ops.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs error
	errs = multierr.Append(errs, r.Unload(ctx))
	errs = multierr.Append(errs, r.interp.Close(ctx))
	errs = multierr.Append(errs, r.registry.Close(ctx))
	errs = multierr.Append(errs, r.engine.Close(ctx))
	return errs
}
