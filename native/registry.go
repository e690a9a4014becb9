package native

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/engine"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/resource"
)

// ExitProc is the host function a library calls when its foreign runtime
// shuts down. It takes the token passed to create_exit_handler.
const ExitProc = "exit_proc"

// LoadFlags modify how a library is loaded and released.
type LoadFlags uint32

const (
	// NoUnload keeps the library instantiated after its last reference is
	// released.
	NoUnload LoadFlags = 1 << iota
)

// Library is a loaded foreign library shared through a Registry.
type Library struct {
	registry *Registry
	path     string
	flags    LoadFlags
	inst     *engine.Instance
	refs     int32
}

func (l *Library) Path() string { return l.path }

// Flags returns the load flags accumulated over every Load of the library.
func (l *Library) Flags() LoadFlags {
	l.registry.mu.Lock()
	defer l.registry.mu.Unlock()
	return l.flags
}

func (l *Library) Instance() *engine.Instance { return l.inst }

// Refs returns the current reference count.
func (l *Library) Refs() int32 {
	l.registry.mu.Lock()
	defer l.registry.mu.Unlock()
	return l.refs
}

// TablePointer reads the address table pointer from an exported i32
// global. It returns 0 when the global does not exist.
func (l *Library) TablePointer(global string) uint32 {
	if global == "" {
		return 0
	}
	v, ok := l.inst.Global(global)
	if !ok {
		return 0
	}
	return uint32(v)
}

// Registry shares loaded libraries by path and counts references to them.
// The foreign unload happens when the last reference is released.
type Registry struct {
	engine *engine.Engine

	mu   sync.Mutex
	libs map[string]*Library

	tokens *resource.Table

	// Instances unloaded from inside a foreign call, closed once the call
	// returns.
	pending []*engine.Instance
}

// NewRegistry creates a registry over eng and exports the exit callback
// into its host module, so it must run before any library is loaded.
func NewRegistry(eng *engine.Engine) (*Registry, error) {
	r := &Registry{
		engine: eng,
		libs:   make(map[string]*Library),
		tokens: resource.NewTable(),
	}
	err := eng.Export(ExitProc, api.GoModuleFunc(r.exitProc),
		[]api.ValueType{api.ValueTypeI32}, nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Engine returns the engine libraries are loaded into.
func (r *Registry) Engine() *engine.Engine { return r.engine }

// Load returns the library at path with one new reference, loading it on
// first use.
func (r *Registry) Load(ctx context.Context, path string, flags LoadFlags) (*Library, error) {
	resolved, err := r.engine.Resolve(path)
	if err != nil {
		return nil, err
	}
	if lib := r.acquirePath(resolved, flags); lib != nil {
		return lib, nil
	}
	mod, err := r.engine.LoadFile(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return r.register(ctx, resolved, mod, flags)
}

// LoadBytes loads a library from memory under name. Later loads of the
// same name share it.
func (r *Registry) LoadBytes(ctx context.Context, name string, wasm []byte, flags LoadFlags) (*Library, error) {
	if lib := r.acquirePath(name, flags); lib != nil {
		return lib, nil
	}
	mod, err := r.engine.Compile(ctx, name, wasm)
	if err != nil {
		return nil, err
	}
	return r.register(ctx, name, mod, flags)
}

func (r *Registry) acquirePath(path string, flags LoadFlags) *Library {
	r.mu.Lock()
	defer r.mu.Unlock()
	lib, ok := r.libs[path]
	if !ok {
		return nil
	}
	lib.refs++
	lib.flags |= flags & NoUnload
	return lib
}

func (r *Registry) register(ctx context.Context, path string, mod *engine.Module, flags LoadFlags) (*Library, error) {
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		mod.Close(ctx)
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.libs[path]; ok {
		// Lost a concurrent load of the same path.
		existing.refs++
		r.mu.Unlock()
		inst.Close(ctx)
		return existing, nil
	}
	lib := &Library{registry: r, path: path, flags: flags, inst: inst, refs: 1}
	r.libs[path] = lib
	r.mu.Unlock()

	Logger().Debug("library loaded",
		diag.PriorityNative.Field(),
		zap.String("path", path),
		zap.Uint32("flags", uint32(flags)))
	return lib, nil
}

// Acquire takes a new reference on lib. It fails once lib was unloaded.
func (r *Registry) Acquire(lib *Library) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lib == nil || lib.registry != r || r.libs[lib.path] != lib || lib.refs <= 0 {
		path := ""
		if lib != nil {
			path = lib.path
		}
		return errors.Closed(errors.PhaseLoad, "library "+path)
	}
	lib.refs++
	return nil
}

// Release drops a reference on lib and reports whether the library was
// unloaded as a result.
func (r *Registry) Release(ctx context.Context, lib *Library) (bool, error) {
	return r.release(ctx, lib, false)
}

// release drops a reference. With deferClose an unloaded instance is
// closed by the next flush instead of immediately, for callers running
// inside one of its functions.
func (r *Registry) release(ctx context.Context, lib *Library, deferClose bool) (bool, error) {
	r.mu.Lock()
	if lib == nil || r.libs[lib.path] != lib || lib.refs <= 0 {
		r.mu.Unlock()
		return false, nil
	}
	lib.refs--
	refs := lib.refs
	unload := refs == 0 && lib.flags&NoUnload == 0
	if unload {
		delete(r.libs, lib.path)
		if deferClose {
			r.pending = append(r.pending, lib.inst)
		}
	}
	r.mu.Unlock()

	Logger().Debug("library released",
		diag.PriorityCleanup.Field(),
		zap.String("path", lib.path),
		zap.Int32("refs", refs),
		zap.Bool("unload", unload),
		zap.Bool("deferred", unload && deferClose))
	if !unload || deferClose {
		return unload, nil
	}
	return true, lib.inst.Close(ctx)
}

// flush closes instances whose unload was deferred.
func (r *Registry) flush(ctx context.Context) error {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	var errs error
	for _, inst := range pending {
		errs = multierr.Append(errs, inst.Close(ctx))
	}
	return errs
}

// Refs returns the reference count of the library loaded under path, or
// 0 when none is loaded.
func (r *Registry) Refs(path string) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lib, ok := r.libs[path]; ok {
		return lib.refs
	}
	return 0
}

// Libraries returns the sorted paths of loaded libraries.
func (r *Registry) Libraries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.libs))
	for p := range r.libs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close unloads every library regardless of references or flags and
// frees outstanding exit tokens.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	libs := r.libs
	r.libs = make(map[string]*Library)
	r.mu.Unlock()

	errs := r.flush(ctx)
	for _, lib := range libs {
		errs = multierr.Append(errs, lib.inst.Close(ctx))
	}
	r.tokens.Clear()
	return errs
}
