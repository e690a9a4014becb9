package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/script-core/errors"
)

// Instance is an instantiated library.
type Instance struct {
	module *Module

	mu     sync.RWMutex
	mod    api.Module
	funcs  map[string]api.Function
	memory *Memory
}

func (i *Instance) Module() *Module { return i.module }

// Function returns the exported function called name, or nil.
func (i *Instance) Function(name string) api.Function {
	i.mu.RLock()
	fn, ok := i.funcs[name]
	mod := i.mod
	i.mu.RUnlock()
	if ok || mod == nil {
		return fn
	}

	fn = mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	i.mu.Lock()
	i.funcs[name] = fn
	i.mu.Unlock()
	return fn
}

// Call invokes an exported function with raw core values.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.Function(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseResolve, "function", name)
	}
	return fn.Call(ctx, params...)
}

// Global returns the value of an exported global.
func (i *Instance) Global(name string) (uint64, bool) {
	i.mu.RLock()
	mod := i.mod
	i.mu.RUnlock()
	if mod == nil {
		return 0, false
	}
	g := mod.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return g.Get(), true
}

// Memory returns the instance's exported memory, or nil.
func (i *Instance) Memory() *Memory {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.memory == nil && i.mod != nil {
		if mem := i.mod.Memory(); mem != nil {
			i.memory = &Memory{mem: mem}
		}
	}
	return i.memory
}

// Closed reports whether Close has run.
func (i *Instance) Closed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.mod == nil
}

// Close closes the instance. Later calls are no-ops.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	mod := i.mod
	i.mod = nil
	i.funcs = make(map[string]api.Function)
	i.memory = nil
	i.mu.Unlock()

	if mod == nil {
		return nil
	}
	return mod.Close(ctx)
}
