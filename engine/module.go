package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
)

// InitializeFunc is called after instantiation when a library exports it.
const InitializeFunc = "_initialize"

// Module is a compiled library.
type Module struct {
	engine   *Engine
	name     string
	compiled wazero.CompiledModule
	exports  map[string]api.FunctionDefinition
}

func (m *Module) Name() string { return m.name }

// ExportedFunction returns the definition of an exported function.
func (m *Module) ExportedFunction(name string) (api.FunctionDefinition, bool) {
	def, ok := m.exports[name]
	return def, ok
}

// ExportNames returns the sorted names of exported functions.
func (m *Module) ExportNames() []string {
	names := make([]string, 0, len(m.exports))
	for name := range m.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate links the module against the host module, and WASI when the
// module imports it, then runs its initializer if one is exported.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	e := m.engine
	if err := e.sealHost(ctx); err != nil {
		return nil, err
	}
	if e.cfg.WASI && importsWASI(m.compiled) {
		if err := e.InitWASI(ctx); err != nil {
			return nil, err
		}
	}

	instName := fmt.Sprintf("%s#%d", m.name, e.seq.Add(1))
	cfg := wazero.NewModuleConfig().WithName(instName).WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindBindFailure, err, "instantiate "+m.name)
	}

	inst := &Instance{module: m, mod: mod, funcs: make(map[string]api.Function)}
	if fn := inst.Function(InitializeFunc); fn != nil {
		if _, err := fn.Call(ctx); err != nil {
			mod.Close(ctx)
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindBindFailure, err, "initialize "+m.name)
		}
	}

	Logger().Debug("module instantiated",
		diag.PriorityNative.Field(),
		zap.String("module", m.name),
		zap.String("instance", instName))
	return inst, nil
}

// Close releases the compiled code.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
