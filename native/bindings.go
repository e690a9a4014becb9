package native

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/resource"
	"github.com/wippyai/script-core/thread"
)

// maxNameLen bounds export names read from the address table.
const maxNameLen = 256

type binding struct {
	fn      api.Function
	name    string
	address uint32
}

// Bindings is the set of foreign functions resolved from one library.
// Every required function is bound; optional ones may be nil.
type Bindings struct {
	registry *Registry
	lib      *Library
	table    uint32
	flags    LoadFlags
	owner    thread.ID

	funcs [NumFuncs]binding

	mu       sync.Mutex
	libHeld  bool
	disposed bool
	token    resource.Handle
	onExit   func(ctx context.Context, b *Bindings) error
	interps  map[uint32]thread.ID
}

// Create binds the foreign functions of lib. With a non-zero table the
// export names are read from the address table at that offset; otherwise
// each function is looked up by its own name. The bindings hold their own
// reference on lib, so the caller's reference stays with the caller.
func Create(ctx context.Context, lib *Library, table uint32, flags LoadFlags) (*Bindings, error) {
	if lib == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "nil library")
	}
	r := lib.registry
	if err := r.Acquire(lib); err != nil {
		return nil, err
	}

	b := &Bindings{
		registry: r,
		lib:      lib,
		table:    table,
		flags:    flags,
		owner:    thread.Current(ctx),
		interps:  make(map[uint32]thread.ID),
	}
	funcs, err := resolve(lib, table)
	if err != nil {
		if _, relErr := r.Release(ctx, lib); relErr != nil {
			err = multierr.Append(err, relErr)
		}
		return nil, err
	}
	b.funcs = funcs
	b.libHeld = true

	Logger().Debug("bindings created",
		diag.PriorityNative.Field(),
		zap.String("library", lib.path),
		zap.Uint32("table", table),
		zap.Int("bound", b.count()),
		zap.Uint64("owner", uint64(b.owner)))
	return b, nil
}

// exportNames returns the export name for each function, empty when the
// library does not provide it.
func exportNames(lib *Library, table uint32) ([NumFuncs]string, error) {
	var names [NumFuncs]string
	if table == 0 {
		for i := range symbols {
			names[i] = symbols[i].Name
		}
		return names, nil
	}

	mem := lib.inst.Memory()
	if mem == nil {
		return names, errors.NotFound(errors.PhaseResolve, "memory of library", lib.path)
	}
	size, err := mem.ReadU32(table)
	if err != nil {
		return names, errors.Wrap(errors.PhaseResolve, errors.KindOutOfBounds, err, "read address table size")
	}
	if size < MinTableSize {
		return names, errors.SizeMismatch("native stubs", size, MinTableSize)
	}
	for i := range names {
		off, err := mem.ReadU32(table + 4 + uint32(i)*4)
		if err != nil {
			return names, errors.Wrap(errors.PhaseResolve, errors.KindOutOfBounds, err,
				"read address table entry "+Func(i).String())
		}
		if off == 0 {
			continue
		}
		name, err := mem.ReadCString(off, maxNameLen)
		if err != nil {
			return names, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err,
				"read export name of "+Func(i).String())
		}
		names[i] = name
	}
	return names, nil
}

func resolve(lib *Library, table uint32) ([NumFuncs]binding, error) {
	var out [NumFuncs]binding
	names, err := exportNames(lib, table)
	if err != nil {
		return out, err
	}

	var missing []errors.MissingSymbol
	for i := range symbols {
		sym := &symbols[i]
		name := names[i]

		var fn api.Function
		msg := "address table entry is null"
		if name != "" {
			fn = lib.inst.Function(name)
			msg = fmt.Sprintf("export %q not found", name)
		}
		if fn == nil {
			if sym.Optional {
				Logger().Debug("optional symbol absent",
					diag.PriorityNative.Field(),
					zap.String("symbol", sym.Name))
				continue
			}
			missing = append(missing, errors.MissingSymbol{Name: sym.Name, Message: msg})
			continue
		}

		def := fn.Definition()
		if !slices.Equal(def.ParamTypes(), sym.CoreParams) || !slices.Equal(def.ResultTypes(), sym.CoreResults) {
			return out, errors.BindFailed(sym.Name, errors.New(errors.PhaseBind, errors.KindTypeMismatch).
				Declared(sym.Signature()).
				Actual(coreSignature(def.ParamTypes(), def.ResultTypes())).
				Detail("export %q has the wrong signature", name).Build())
		}
		out[i] = binding{fn: fn, name: name, address: def.Index()}
		Logger().Debug("symbol bound",
			diag.PriorityNative.Field(),
			zap.String("symbol", sym.Name),
			zap.String("export", name),
			zap.Uint32("index", def.Index()))
	}
	if len(missing) > 0 {
		return out, errors.NewMissingSymbolsError(lib.path, missing)
	}
	return out, nil
}

func (b *Bindings) count() int {
	n := 0
	for i := range b.funcs {
		if b.funcs[i].fn != nil {
			n++
		}
	}
	return n
}

// Library returns the library the bindings were resolved from.
func (b *Bindings) Library() *Library { return b.lib }

// Table returns the address table offset, 0 in symbol mode.
func (b *Bindings) Table() uint32 { return b.table }

// Owner returns the thread that created the bindings.
func (b *Bindings) Owner() thread.ID { return b.owner }

// Func returns the bound function, or nil when f is an absent optional
// function.
func (b *Bindings) Func(f Func) api.Function {
	if f < 0 || f >= NumFuncs {
		return nil
	}
	return b.funcs[f].fn
}

// Has reports whether f is bound.
func (b *Bindings) Has(f Func) bool { return b.Func(f) != nil }

// Address returns the function index f was bound to, and whether it is bound.
func (b *Bindings) Address(f Func) (uint32, bool) {
	fn := b.Func(f)
	if fn == nil {
		return 0, false
	}
	return b.funcs[f].address, true
}

// Call invokes f with raw core values.
func (b *Bindings) Call(ctx context.Context, f Func, params ...uint64) ([]uint64, error) {
	b.mu.Lock()
	disposed := b.disposed
	b.mu.Unlock()
	if disposed {
		return nil, errors.Closed(errors.PhaseInvoke, "bindings for "+b.lib.path)
	}
	fn := b.Func(f)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseResolve, "function", f.String())
	}
	res, err := fn.Call(ctx, params...)
	if ferr := b.registry.flush(ctx); ferr != nil {
		Logger().Error("close unloaded library failed",
			diag.PriorityCleanup.Field(),
			zap.String("library", b.lib.path),
			zap.Error(ferr))
	}
	return res, err
}

func (b *Bindings) callI32(ctx context.Context, f Func, params ...uint64) (int32, error) {
	res, err := b.Call(ctx, f, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, errors.InvalidInput(errors.PhaseInvoke, f.String()+" returned no result")
	}
	return int32(uint32(res[0])), nil
}

// CreateInterp creates a foreign interpreter owned by the calling thread.
func (b *Bindings) CreateInterp(ctx context.Context) (uint32, error) {
	h, err := b.callI32(ctx, CreateInterpFunc)
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, errors.InvalidInterpreter(errors.PhaseInvoke, "foreign interpreter creation failed")
	}
	b.mu.Lock()
	b.interps[uint32(h)] = thread.Current(ctx)
	b.mu.Unlock()
	return uint32(h), nil
}

// DeleteInterp deletes a foreign interpreter from its owning thread.
func (b *Bindings) DeleteInterp(ctx context.Context, interp uint32) error {
	if err := b.CheckInterp(ctx, interp); err != nil {
		return err
	}
	if _, err := b.Call(ctx, DeleteInterpFunc, uint64(interp)); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.interps, interp)
	b.mu.Unlock()
	return nil
}

// InterpDeleted reports whether the foreign interpreter is being deleted.
func (b *Bindings) InterpDeleted(ctx context.Context, interp uint32) (bool, error) {
	v, err := b.callI32(ctx, InterpDeleted, uint64(interp))
	return v != 0, err
}

// GetErrorLine returns the error line of a foreign interpreter. The
// function is optional; when absent the result is a NotFound error.
func (b *Bindings) GetErrorLine(ctx context.Context, interp uint32) (int, error) {
	v, err := b.callI32(ctx, GetErrorLine, uint64(interp))
	return int(v), err
}

// FinalizeThread releases the calling thread's foreign state.
func (b *Bindings) FinalizeThread(ctx context.Context) error {
	_, err := b.Call(ctx, FinalizeThread)
	return err
}

// Finalize shuts the foreign runtime down. Installed exit handlers run
// from inside this call.
func (b *Bindings) Finalize(ctx context.Context) error {
	_, err := b.Call(ctx, Finalize)
	return err
}

// Interps returns the foreign interpreters created through b.
func (b *Bindings) Interps() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uint32, 0, len(b.interps))
	for h := range b.interps {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// CheckInterp fails unless interp was created by the calling thread. A zero
// handle is invalid input.
func (b *Bindings) CheckInterp(ctx context.Context, interp uint32) error {
	if interp == 0 {
		return errors.InvalidInput(errors.PhaseThread, "invalid interpreter handle")
	}
	cur := thread.Current(ctx)
	b.mu.Lock()
	owner, ok := b.interps[interp]
	b.mu.Unlock()
	if !ok || owner != cur {
		return errors.WrongThread("interpreter", uint64(interp), uint64(cur), uint64(owner))
	}
	return nil
}

// CheckObjPtr fails unless the calling thread owns the bindings that
// produced obj. A zero pointer is invalid input.
func (b *Bindings) CheckObjPtr(ctx context.Context, obj uint32) error {
	if obj == 0 {
		return errors.InvalidInput(errors.PhaseThread, "invalid object handle")
	}
	cur := thread.Current(ctx)
	if cur != b.owner {
		return errors.WrongThread("object", uint64(obj), uint64(cur), uint64(b.owner))
	}
	return nil
}

// Status summarizes the bindings for diagnostics.
func (b *Bindings) Status() string {
	mode := "symbols"
	if b.table != 0 {
		mode = fmt.Sprintf("table 0x%X", b.table)
	}
	b.mu.Lock()
	held, token := b.libHeld, b.token
	b.mu.Unlock()
	return fmt.Sprintf("%s: %d/%d bound (%s), library held %t, exit token %d",
		b.lib.path, b.count(), int(NumFuncs), mode, held, token)
}

// Copy creates independent bindings over the same library with a fresh
// library reference.
func (b *Bindings) Copy(ctx context.Context) (*Bindings, error) {
	b.mu.Lock()
	disposed := b.disposed
	b.mu.Unlock()
	if disposed {
		return nil, errors.Closed(errors.PhaseResolve, "bindings for "+b.lib.path)
	}
	return Create(ctx, b.lib, b.table, b.flags)
}

// releaseLib drops the library reference once. From inside a foreign
// call deferClose postpones closing the library until the call returns.
func (b *Bindings) releaseLib(ctx context.Context, deferClose bool) error {
	b.mu.Lock()
	held := b.libHeld
	b.libHeld = false
	b.mu.Unlock()
	if !held {
		return nil
	}
	_, err := b.registry.release(ctx, b.lib, deferClose)
	return err
}

// Dispose frees the exit token without calling into the library and
// releases the library reference. Later calls are no-ops.
func (b *Bindings) Dispose(ctx context.Context) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	b.mu.Unlock()

	b.ClearExitHandler()
	err := b.releaseLib(ctx, false)

	Logger().Debug("bindings disposed",
		diag.PriorityCleanup.Field(),
		zap.String("library", b.lib.path),
		zap.Error(err))
	return err
}
