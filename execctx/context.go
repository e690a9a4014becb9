package execctx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/thread"
)

// Host is the interpreter surface the context manager depends on.
type Host interface {
	ID() uint64
	PrimaryThread() thread.ID

	// Locker guards the global frame slot.
	Locker() sync.Locker

	// GlobalFrame and SetGlobalFrame are called with Locker held.
	GlobalFrame() *Frame
	SetGlobalFrame(*Frame)

	Canceled() bool
}

// Context is the state one subsystem keeps for one (thread, interpreter) pair.
type Context interface {
	ThreadID() thread.ID
	InterpreterID() uint64
	Released() bool

	release(global bool, owner bool) error
}

type base struct {
	threadID thread.ID
	interpID uint64
	released atomic.Bool
}

func (b *base) ThreadID() thread.ID   { return b.threadID }
func (b *base) InterpreterID() uint64 { return b.interpID }
func (b *base) Released() bool        { return b.released.Load() }

// usable reports whether the context may serve a lookup on tid.
func usable(c Context, tid thread.ID) bool {
	return !c.Released() && c.ThreadID() == tid
}

// EngineContext holds the evaluation state of one thread.
type EngineContext struct {
	base

	Levels         int
	MaxLevels      int
	ErrorLine      int
	ErrorInfo      string
	ReturnCode     int
	PreviousResult string
}

func newEngineContext(tid thread.ID, h Host) (*EngineContext, error) {
	return &EngineContext{base: base{threadID: tid, interpID: h.ID()}}, nil
}

// EnterLevel increments the nesting level and returns it.
func (c *EngineContext) EnterLevel() int {
	c.Levels++
	if c.Levels > c.MaxLevels {
		c.MaxLevels = c.Levels
	}
	return c.Levels
}

// ExitLevel decrements the nesting level and returns it.
func (c *EngineContext) ExitLevel() int {
	if c.Levels > 0 {
		c.Levels--
	}
	return c.Levels
}

func (c *EngineContext) release(bool, bool) error {
	c.released.Store(true)
	c.Levels = 0
	c.PreviousResult = ""
	c.ErrorInfo = ""
	return nil
}

const maxHistory = 256

// InteractiveContext holds the interactive loop state of one thread.
type InteractiveContext struct {
	base

	host Host

	Interactive bool
	Input       string
	Mode        string
	ActiveLoops int
	TotalLoops  int
	History     []string
}

func newInteractiveContext(tid thread.ID, h Host) (*InteractiveContext, error) {
	return &InteractiveContext{base: base{threadID: tid, interpID: h.ID()}, host: h}, nil
}

// AddHistory records an input line, keeping the most recent entries.
func (c *InteractiveContext) AddHistory(line string) {
	c.History = append(c.History, line)
	if len(c.History) > maxHistory {
		c.History = append(c.History[:0], c.History[len(c.History)-maxHistory:]...)
	}
}

// ErrPauseCanceled is returned by Pause when the interpreter was canceled.
var ErrPauseCanceled = errors.New(errors.PhaseContext, errors.KindClosed).Detail("pause canceled by interpreter").Build()

// Pause polls done every interval until it reports true, the interpreter is
// canceled or ctx ends. It is a cooperative wait, not a blocking primitive.
func (c *InteractiveContext) Pause(ctx context.Context, interval time.Duration, done func() bool) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	c.ActiveLoops++
	c.TotalLoops++
	defer func() { c.ActiveLoops-- }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if done != nil && done() {
			return nil
		}
		if c.host != nil && c.host.Canceled() {
			return ErrPauseCanceled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *InteractiveContext) release(bool, bool) error {
	c.released.Store(true)
	c.History = nil
	c.host = nil
	return nil
}

// TestOutcome is the result class of a single test.
type TestOutcome int

const (
	TestPassed TestOutcome = iota
	TestFailed
	TestSkipped
	TestDisabled
)

// TestContext holds the test harness state of one thread.
type TestContext struct {
	base

	TargetInterpreter uint64
	Statistics        [4]int
	Constraints       map[string]bool
	KnownBugs         []string
	Skipped           []string
	Failures          []string
	Counts            map[string]int
	Match             []string
	Skip              []string
}

func newTestContext(tid thread.ID, h Host) (*TestContext, error) {
	return &TestContext{
		base:              base{threadID: tid, interpID: h.ID()},
		TargetInterpreter: h.ID(),
		Constraints:       make(map[string]bool),
		Counts:            make(map[string]int),
	}, nil
}

// Record tallies one test result.
func (c *TestContext) Record(name string, outcome TestOutcome) {
	c.Statistics[outcome]++
	c.Counts[name]++
	switch outcome {
	case TestFailed:
		c.Failures = append(c.Failures, name)
	case TestSkipped:
		c.Skipped = append(c.Skipped, name)
	}
}

// Total returns the number of recorded results.
func (c *TestContext) Total() int {
	n := 0
	for _, v := range c.Statistics {
		n += v
	}
	return n
}

func (c *TestContext) release(bool, bool) error {
	c.released.Store(true)
	c.Constraints = nil
	c.Counts = nil
	return nil
}

// VariableContext holds the call stack of one thread. The bottom of the
// stack is the interpreter's global frame, shared with every other thread.
type VariableContext struct {
	base

	host        Host
	callStack   *CallStack
	globalFrame *Frame
}

// newVariableContext creates the call stack and, under the interpreter lock,
// the shared global frame if it does not exist yet.
func newVariableContext(tid thread.ID, h Host) (*VariableContext, error) {
	mu := h.Locker()
	mu.Lock()
	global := h.GlobalFrame()
	if global == nil {
		global = NewFrame("global", FrameGlobal)
		h.SetGlobalFrame(global)
	}
	mu.Unlock()

	return &VariableContext{
		base:        base{threadID: tid, interpID: h.ID()},
		host:        h,
		callStack:   NewCallStack(global),
		globalFrame: global,
	}, nil
}

func (c *VariableContext) CallStack() *CallStack { return c.callStack }

func (c *VariableContext) GlobalFrame() *Frame { return c.globalFrame }

// CurrentFrame returns the top of the call stack.
func (c *VariableContext) CurrentFrame() *Frame {
	if c.callStack == nil {
		return nil
	}
	return c.callStack.Top()
}

// release drops the call stack. The shared global frame is torn down only
// when global is set and the context belongs to the releasing interpreter.
func (c *VariableContext) release(global bool, owner bool) error {
	c.released.Store(true)
	if c.callStack != nil {
		c.callStack.clear()
		c.callStack = nil
	}
	if global && owner && c.globalFrame != nil && c.host != nil {
		mu := c.host.Locker()
		mu.Lock()
		if c.host.GlobalFrame() == c.globalFrame {
			c.host.SetGlobalFrame(nil)
		}
		mu.Unlock()
		c.globalFrame.Clear()
	}
	c.globalFrame = nil
	c.host = nil
	return nil
}
