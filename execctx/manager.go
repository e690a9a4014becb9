package execctx

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/thread"
)

// Variant names one of the four context kinds.
type Variant string

const (
	VariantEngine      Variant = "engine"
	VariantInteractive Variant = "interactive"
	VariantTest        Variant = "test"
	VariantVariable    Variant = "variable"
)

type cacheEntry[T Context] struct {
	ctx T
}

// slot manages one variant for one interpreter.
type slot[T Context] struct {
	variant  Variant
	reg      *registry[T]
	create   func(thread.ID, Host) (T, error)
	previous atomic.Pointer[cacheEntry[T]]
}

func (s *slot[T]) get(tid thread.ID, h Host, create bool) (T, error) {
	var zero T

	if e := s.previous.Load(); e != nil && usable(e.ctx, tid) {
		Logger().Debug("context cache hit",
			diag.PriorityContext.Field(),
			zap.String("variant", string(s.variant)),
			zap.Uint64("thread", uint64(tid)))
		return e.ctx, nil
	}

	if c, ok := s.reg.get(tid, h.ID()); ok && !c.Released() {
		s.previous.Store(&cacheEntry[T]{ctx: c})
		return c, nil
	}

	if !create {
		return zero, nil
	}

	c, err := s.create(tid, h)
	if err != nil {
		return zero, err
	}
	c, _ = s.reg.putIfAbsent(c)
	s.previous.Store(&cacheEntry[T]{ctx: c})

	Logger().Debug("context created",
		diag.PriorityContext.Field(),
		zap.String("variant", string(s.variant)),
		zap.Uint64("thread", uint64(tid)),
		zap.Uint64("interpreter", h.ID()))
	return c, nil
}

func (s *slot[T]) invalidate(c T) {
	if e := s.previous.Load(); e != nil && Context(e.ctx) == Context(c) {
		s.previous.CompareAndSwap(e, nil)
	}
}

func (s *slot[T]) dispose(c T, global bool, interp uint64) error {
	s.invalidate(c)
	err := c.release(global, c.InterpreterID() == interp)
	Logger().Debug("context released",
		diag.PriorityCleanup.Field(),
		zap.String("variant", string(s.variant)),
		zap.Uint64("thread", uint64(c.ThreadID())),
		zap.Uint64("interpreter", c.InterpreterID()),
		zap.Bool("global", global))
	return err
}

func (s *slot[T]) release(tid thread.ID, interp uint64, global bool) (bool, error) {
	c, ok := s.reg.remove(tid, interp)
	if !ok {
		return false, nil
	}
	return true, s.dispose(c, global, interp)
}

func (s *slot[T]) purge(interp uint64, keep thread.ID, global bool) (int, error) {
	var err error
	removed := s.reg.removeInterp(interp, keep)
	for _, c := range removed {
		err = multierr.Append(err, s.dispose(c, global, interp))
	}
	return len(removed), err
}

// Manager hands out the execution contexts of one interpreter. Contexts are
// confined to the thread that created them; the thread is taken from the
// context.Context passed to each call (see thread.Current).
type Manager struct {
	mu   sync.RWMutex
	host Host

	engine      slot[*EngineContext]
	interactive slot[*InteractiveContext]
	test        slot[*TestContext]
	variable    slot[*VariableContext]
}

// NewManager creates a manager for h. The manager never disposes h.
func NewManager(h Host) *Manager {
	m := &Manager{host: h}
	m.engine = slot[*EngineContext]{variant: VariantEngine, reg: engines, create: newEngineContext}
	m.interactive = slot[*InteractiveContext]{variant: VariantInteractive, reg: interactives, create: newInteractiveContext}
	m.test = slot[*TestContext]{variant: VariantTest, reg: tests, create: newTestContext}
	m.variable = slot[*VariableContext]{variant: VariantVariable, reg: variables, create: newVariableContext}
	return m
}

// Host returns the interpreter, or nil once the manager was freed globally.
func (m *Manager) Host() Host {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.host
}

func (m *Manager) requireHost() (Host, error) {
	h := m.Host()
	if h == nil {
		return nil, errors.InvalidInterpreter(errors.PhaseContext, "context manager has no interpreter")
	}
	return h, nil
}

// Engine returns the engine context of the calling thread. When the context
// does not exist and create is false it returns nil and no error.
func (m *Manager) Engine(ctx context.Context, create bool) (*EngineContext, error) {
	h, err := m.requireHost()
	if err != nil {
		return nil, err
	}
	return m.engine.get(thread.Current(ctx), h, create)
}

// Interactive returns the interactive context of the calling thread.
func (m *Manager) Interactive(ctx context.Context, create bool) (*InteractiveContext, error) {
	h, err := m.requireHost()
	if err != nil {
		return nil, err
	}
	return m.interactive.get(thread.Current(ctx), h, create)
}

// Test returns the test context of the calling thread.
func (m *Manager) Test(ctx context.Context, create bool) (*TestContext, error) {
	h, err := m.requireHost()
	if err != nil {
		return nil, err
	}
	return m.test.get(thread.Current(ctx), h, create)
}

// Variables returns the variable context of the calling thread. Creating it
// also creates the interpreter's global frame on first use.
func (m *Manager) Variables(ctx context.Context, create bool) (*VariableContext, error) {
	h, err := m.requireHost()
	if err != nil {
		return nil, err
	}
	return m.variable.get(thread.Current(ctx), h, create)
}

func (m *Manager) interpID() (uint64, bool) {
	h := m.Host()
	if h == nil {
		return 0, false
	}
	return h.ID(), true
}

func logReleaseError(variant Variant, err error) {
	if err != nil {
		Logger().Error("context release failed",
			diag.PriorityCleanup.Field(),
			zap.String("variant", string(variant)),
			zap.Error(err))
	}
}

// ReleaseEngine releases the engine context of the calling thread and
// reports whether one existed.
func (m *Manager) ReleaseEngine(ctx context.Context, global bool) bool {
	id, ok := m.interpID()
	if !ok {
		return false
	}
	released, err := m.engine.release(thread.Current(ctx), id, global)
	logReleaseError(VariantEngine, err)
	return released
}

// ReleaseInteractive releases the interactive context of the calling thread.
func (m *Manager) ReleaseInteractive(ctx context.Context, global bool) bool {
	id, ok := m.interpID()
	if !ok {
		return false
	}
	released, err := m.interactive.release(thread.Current(ctx), id, global)
	logReleaseError(VariantInteractive, err)
	return released
}

// ReleaseTest releases the test context of the calling thread.
func (m *Manager) ReleaseTest(ctx context.Context, global bool) bool {
	id, ok := m.interpID()
	if !ok {
		return false
	}
	released, err := m.test.release(thread.Current(ctx), id, global)
	logReleaseError(VariantTest, err)
	return released
}

// ReleaseVariables releases the variable context of the calling thread. The
// shared global frame is torn down only when global is set.
func (m *Manager) ReleaseVariables(ctx context.Context, global bool) bool {
	id, ok := m.interpID()
	if !ok {
		return false
	}
	released, err := m.variable.release(thread.Current(ctx), id, global)
	logReleaseError(VariantVariable, err)
	return released
}

// ReleaseThread releases every context the calling thread holds for this
// interpreter, leaving the global frame intact. It returns the number of
// contexts released.
func (m *Manager) ReleaseThread(ctx context.Context) int {
	n := 0
	for _, released := range []bool{
		m.ReleaseEngine(ctx, false),
		m.ReleaseInteractive(ctx, false),
		m.ReleaseTest(ctx, false),
		m.ReleaseVariables(ctx, false),
	} {
		if released {
			n++
		}
	}
	return n
}

// Purge removes the contexts of this interpreter on every thread and returns
// how many were removed. With nonPrimary the primary thread keeps its
// contexts, and the shared global frame is then left alone even if global is
// set since the primary thread still references it.
func (m *Manager) Purge(nonPrimary, global bool) int {
	h := m.Host()
	if h == nil {
		return 0
	}
	return Purge(h, nonPrimary, global)
}

// Purge removes the contexts of h on every thread. It is safe to call from
// any thread.
func Purge(h Host, nonPrimary, global bool) int {
	var keep thread.ID
	if nonPrimary {
		keep = h.PrimaryThread()
		global = false
	}
	id := h.ID()

	total := 0
	var err error
	add := func(n int, e error) {
		total += n
		err = multierr.Append(err, e)
	}

	// Other Manager instances over the same host keep their own cache slots;
	// released contexts fail the cache check so the stale entry is harmless.
	add(purgeSlot(VariantEngine, engines, id, keep, global))
	add(purgeSlot(VariantInteractive, interactives, id, keep, global))
	add(purgeSlot(VariantTest, tests, id, keep, global))
	add(purgeSlot(VariantVariable, variables, id, keep, global))

	logReleaseError("purge", err)
	Logger().Debug("contexts purged",
		diag.PriorityCleanup.Field(),
		zap.Uint64("interpreter", id),
		zap.Bool("non_primary", nonPrimary),
		zap.Int("count", total))
	return total
}

func purgeSlot[T Context](variant Variant, reg *registry[T], interp uint64, keep thread.ID, global bool) (int, error) {
	s := slot[T]{variant: variant, reg: reg}
	return s.purge(interp, keep, global)
}

// Free releases the calling thread's four contexts. When global is set the
// manager also drops its interpreter reference; later lookups then fail
// with an invalid interpreter error.
func (m *Manager) Free(ctx context.Context, global bool) error {
	id, ok := m.interpID()
	if !ok {
		return nil
	}
	tid := thread.Current(ctx)

	var err error
	_, e := m.engine.release(tid, id, global)
	err = multierr.Append(err, e)
	_, e = m.interactive.release(tid, id, global)
	err = multierr.Append(err, e)
	_, e = m.test.release(tid, id, global)
	err = multierr.Append(err, e)
	_, e = m.variable.release(tid, id, global)
	err = multierr.Append(err, e)

	if global {
		m.mu.Lock()
		m.host = nil
		m.mu.Unlock()
	}
	return err
}

// Counts reports the live contexts of one interpreter across all threads.
type Counts struct {
	Engine      int
	Interactive int
	Test        int
	Variable    int
}

func (c Counts) Total() int {
	return c.Engine + c.Interactive + c.Test + c.Variable
}

// Counts returns the number of live contexts of this interpreter.
func (m *Manager) Counts() Counts {
	id, ok := m.interpID()
	if !ok {
		return Counts{}
	}
	return CountsFor(id)
}

// CountsFor returns the number of live contexts of interpreter id.
func CountsFor(id uint64) Counts {
	return Counts{
		Engine:      engines.count(id),
		Interactive: interactives.count(id),
		Test:        tests.count(id),
		Variable:    variables.count(id),
	}
}

// ReleaseAll releases every context held by tid across all interpreters.
// Thread owners call it when the thread exits. The global frames are kept.
func ReleaseAll(tid thread.ID) int {
	n := 0
	n += releaseAll(VariantEngine, engines, tid)
	n += releaseAll(VariantInteractive, interactives, tid)
	n += releaseAll(VariantTest, tests, tid)
	n += releaseAll(VariantVariable, variables, tid)
	return n
}

func releaseAll[T Context](variant Variant, reg *registry[T], tid thread.ID) int {
	s := slot[T]{variant: variant, reg: reg}
	removed := reg.removeThread(tid)
	for _, c := range removed {
		logReleaseError(variant, s.dispose(c, false, c.InterpreterID()))
	}
	return len(removed)
}
