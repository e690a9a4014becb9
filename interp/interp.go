package interp

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/execctx"
	"github.com/wippyai/script-core/resource"
	"github.com/wippyai/script-core/thread"
)

var nextInterpID atomic.Uint64

// CancelFlags select how ResetCancel treats the cancellation state.
type CancelFlags uint8

const (
	// CancelGlobal also clears an unwind in progress, not just the request.
	CancelGlobal CancelFlags = 1 << iota
	// CancelIgnorePending resets even while a script is still running.
	CancelIgnorePending
)

// Callback is a registered command callback.
type Callback interface {
	Name() string
}

// Options configure a new interpreter.
type Options struct {
	// PrimaryThread owns the interpreter. Zero means the creating thread.
	PrimaryThread thread.ID

	// Owner receives delegated evaluations, typically a *ScriptThread.
	Owner any

	// QueueSize bounds the asynchronous event queue. Zero means 64.
	QueueSize int
}

// Interpreter is a script interpreter instance. Its per-thread state lives
// in execution contexts handed out by Contexts; the global frame, commands,
// callbacks and handles are shared and guarded by the interpreter.
type Interpreter struct {
	id      uint64
	primary thread.ID

	mu     sync.Mutex
	global *Frame

	contexts *execctx.Manager
	handles  *resource.Table
	events   *eventQueue

	cmdMu    sync.RWMutex
	commands map[string]Command

	cbMu      sync.Mutex
	callbacks map[string]Callback

	owner atomic.Value

	canceled  atomic.Bool
	unwinding atomic.Bool
	busy      atomic.Int32

	tearingDown atomic.Bool
	disposed    atomic.Bool
}

// Frame is the variable scope type used by the interpreter.
type Frame = execctx.Frame

// New creates an interpreter owned by the thread pinned on ctx.
func New(ctx context.Context, opts Options) *Interpreter {
	primary := opts.PrimaryThread
	if primary == 0 {
		primary = thread.Current(ctx)
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}

	i := &Interpreter{
		id:        nextInterpID.Add(1),
		primary:   primary,
		handles:   resource.NewTable(),
		events:    newEventQueue(size),
		commands:  make(map[string]Command),
		callbacks: make(map[string]Callback),
	}
	i.contexts = execctx.NewManager(i)
	i.handles.Subscribe(objectLog{interp: i.id})
	if opts.Owner != nil {
		i.owner.Store(ownerBox{opts.Owner})
	}
	registerBuiltins(i)

	Logger().Debug("interpreter created",
		diag.PriorityContext.Field(),
		zap.Uint64("interpreter", i.id),
		zap.Uint64("primary_thread", uint64(primary)))
	return i
}

func (i *Interpreter) ID() uint64 { return i.id }

func (i *Interpreter) PrimaryThread() thread.ID { return i.primary }

// Locker returns the coarse interpreter lock guarding the global frame.
func (i *Interpreter) Locker() sync.Locker { return &i.mu }

// GlobalFrame returns the shared global frame. Callers hold Locker.
func (i *Interpreter) GlobalFrame() *Frame { return i.global }

// SetGlobalFrame replaces the shared global frame. Callers hold Locker.
func (i *Interpreter) SetGlobalFrame(f *Frame) { i.global = f }

// Contexts returns the execution context manager of the interpreter.
func (i *Interpreter) Contexts() *execctx.Manager { return i.contexts }

// Handles returns the opaque object table.
func (i *Interpreter) Handles() *resource.Table { return i.handles }

// Valid reports whether the interpreter can still evaluate scripts.
func (i *Interpreter) Valid() bool {
	return !i.disposed.Load() && !i.tearingDown.Load()
}

// Check returns an invalid interpreter error when the interpreter is gone.
func (i *Interpreter) Check(phase errors.Phase) error {
	if i == nil {
		return errors.InvalidInterpreter(phase, "interpreter is nil")
	}
	if i.disposed.Load() {
		return errors.InvalidInterpreter(phase, "interpreter is disposed")
	}
	if i.tearingDown.Load() {
		return errors.InvalidInterpreter(phase, "interpreter is being torn down")
	}
	return nil
}

type ownerBox struct{ v any }

// Owner returns the object evaluations are delegated to, or nil.
func (i *Interpreter) Owner() any {
	if b, ok := i.owner.Load().(ownerBox); ok {
		return b.v
	}
	return nil
}

// SetOwner changes the delegation target.
func (i *Interpreter) SetOwner(owner any) {
	i.owner.Store(ownerBox{owner})
}

// Cancel requests that running and future evaluations stop.
func (i *Interpreter) Cancel(unwind bool) {
	i.canceled.Store(true)
	if unwind {
		i.unwinding.Store(true)
	}
}

// Canceled reports whether cancellation was requested.
func (i *Interpreter) Canceled() bool {
	return i.canceled.Load() || i.unwinding.Load()
}

// ResetCancel clears the cancellation request. Unless CancelIgnorePending
// is set, a request made while a script is running is left in place and
// false is returned. An unwind is only cleared with CancelGlobal.
func (i *Interpreter) ResetCancel(flags CancelFlags) (bool, error) {
	if err := i.Check(errors.PhaseInvoke); err != nil {
		return false, err
	}
	if flags&CancelIgnorePending == 0 && i.IsBusy() && i.canceled.Load() {
		return false, nil
	}
	i.canceled.Store(false)
	if flags&CancelGlobal != 0 {
		i.unwinding.Store(false)
	}
	return !i.unwinding.Load(), nil
}

// IsBusy reports whether a script is being evaluated.
func (i *Interpreter) IsBusy() bool { return i.busy.Load() > 0 }

// AddCallback registers cb under its name. It reports false when a callback
// with that name already exists.
func (i *Interpreter) AddCallback(cb Callback) bool {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	if _, ok := i.callbacks[cb.Name()]; ok {
		return false
	}
	i.callbacks[cb.Name()] = cb
	return true
}

// LookupCallback returns the callback registered under name.
func (i *Interpreter) LookupCallback(name string) (Callback, bool) {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	cb, ok := i.callbacks[name]
	return cb, ok
}

// RemoveCallback removes the registration of name when it still refers to
// cb. It reports whether the registration was removed.
func (i *Interpreter) RemoveCallback(name string, cb Callback) bool {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	cur, ok := i.callbacks[name]
	if !ok || (cb != nil && cur != cb) {
		return false
	}
	delete(i.callbacks, name)
	return true
}

// Callbacks returns the registered callback names.
func (i *Interpreter) Callbacks() []string {
	i.cbMu.Lock()
	defer i.cbMu.Unlock()
	names := make([]string, 0, len(i.callbacks))
	for n := range i.callbacks {
		names = append(names, n)
	}
	return names
}

// Close tears the interpreter down: pending events are dropped, contexts
// on every thread are purged, and handles are released.
func (i *Interpreter) Close(ctx context.Context) error {
	if !i.tearingDown.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	for _, e := range i.events.close() {
		e.finish()
	}

	// Non-primary threads first, then everything including the global frame.
	n := i.contexts.Purge(true, false)
	n += i.contexts.Purge(false, true)
	err = multierr.Append(err, i.contexts.Free(ctx, true))
	err = multierr.Append(err, i.handles.Close())

	i.cbMu.Lock()
	clear(i.callbacks)
	i.cbMu.Unlock()

	i.disposed.Store(true)

	Logger().Debug("interpreter disposed",
		diag.PriorityCleanup.Field(),
		zap.Uint64("interpreter", i.id),
		zap.Int("contexts", n))
	return err
}
