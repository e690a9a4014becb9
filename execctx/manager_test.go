package execctx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/thread"
)

var nextHostID atomic.Uint64

type fakeHost struct {
	id       uint64
	primary  thread.ID
	mu       sync.Mutex
	global   *Frame
	created  atomic.Int32
	canceled atomic.Bool
}

func newFakeHost(primary thread.ID) *fakeHost {
	return &fakeHost{id: nextHostID.Add(1), primary: primary}
}

func (h *fakeHost) ID() uint64               { return h.id }
func (h *fakeHost) PrimaryThread() thread.ID { return h.primary }
func (h *fakeHost) Locker() sync.Locker      { return &h.mu }
func (h *fakeHost) GlobalFrame() *Frame      { return h.global }
func (h *fakeHost) Canceled() bool           { return h.canceled.Load() }

func (h *fakeHost) SetGlobalFrame(f *Frame) {
	if f != nil {
		h.created.Add(1)
	}
	h.global = f
}

func TestManager_GetCreate(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	m := NewManager(newFakeHost(thread.Current(ctx)))

	c, err := m.Engine(ctx, false)
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if c != nil {
		t.Fatal("expected nil context without create")
	}

	c1, err := m.Engine(ctx, true)
	if err != nil || c1 == nil {
		t.Fatalf("Engine(create): %v, %v", c1, err)
	}
	c2, err := m.Engine(ctx, false)
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if c1 != c2 {
		t.Error("repeated lookup returned a different instance")
	}
}

func TestManager_ThreadConfinement(t *testing.T) {
	h := newFakeHost(0)
	m := NewManager(h)
	ctx1 := thread.With(context.Background(), thread.New())
	ctx2 := thread.With(context.Background(), thread.New())

	tests := []struct {
		name string
		get  func(context.Context, bool) (Context, error)
	}{
		{"engine", func(c context.Context, create bool) (Context, error) { return m.Engine(c, create) }},
		{"interactive", func(c context.Context, create bool) (Context, error) { return m.Interactive(c, create) }},
		{"test", func(c context.Context, create bool) (Context, error) { return m.Test(c, create) }},
		{"variable", func(c context.Context, create bool) (Context, error) { return m.Variables(c, create) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.get(ctx1, true)
			if err != nil {
				t.Fatalf("create on first thread: %v", err)
			}

			// The cache now holds a; the second thread must not see it.
			b, err := tt.get(ctx2, false)
			if err != nil {
				t.Fatalf("lookup on second thread: %v", err)
			}
			if b != nil && !isNilContext(b) {
				t.Fatal("second thread saw the first thread's context")
			}

			b, err = tt.get(ctx2, true)
			if err != nil {
				t.Fatalf("create on second thread: %v", err)
			}
			if a == b {
				t.Fatal("threads share a context instance")
			}
			if a.ThreadID() == b.ThreadID() {
				t.Errorf("thread ids match: %d", a.ThreadID())
			}
		})
	}
}

func isNilContext(c Context) bool {
	switch v := c.(type) {
	case *EngineContext:
		return v == nil
	case *InteractiveContext:
		return v == nil
	case *TestContext:
		return v == nil
	case *VariableContext:
		return v == nil
	}
	return c == nil
}

func TestManager_GlobalFrameShared(t *testing.T) {
	h := newFakeHost(0)
	m := NewManager(h)

	const n = 8
	ctxs := make([]*VariableContext, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := thread.With(context.Background(), thread.New())
			v, err := m.Variables(ctx, true)
			if err != nil {
				t.Errorf("Variables: %v", err)
				return
			}
			ctxs[i] = v
		}(i)
	}
	wg.Wait()

	if got := h.created.Load(); got != 1 {
		t.Fatalf("global frame created %d times, want 1", got)
	}
	global := h.GlobalFrame()
	for i, v := range ctxs {
		if v == nil {
			t.Fatalf("context %d missing", i)
		}
		if v.GlobalFrame() != global {
			t.Errorf("context %d references a different global frame", i)
		}
		if got := v.CallStack().Count(global); got != 1 {
			t.Errorf("context %d holds the global frame %d times", i, got)
		}
		if v.CallStack().Bottom() != global {
			t.Errorf("context %d: global frame is not the pinned bottom", i)
		}
	}
}

func TestVariableContext_PinnedFrame(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	m := NewManager(newFakeHost(0))

	v, err := m.Variables(ctx, true)
	if err != nil {
		t.Fatalf("Variables: %v", err)
	}
	stack := v.CallStack()
	stack.Push(NewFrame("proc", FrameProcedure))
	if _, ok := stack.Pop(); !ok {
		t.Fatal("pop of procedure frame failed")
	}
	if _, ok := stack.Pop(); ok {
		t.Fatal("global frame was popped")
	}
	if stack.Depth() != 1 || !stack.Top().IsGlobal() {
		t.Errorf("stack depth %d after pops", stack.Depth())
	}
}

func TestManager_ReleaseVariables(t *testing.T) {
	h := newFakeHost(0)
	m := NewManager(h)
	ctx1 := thread.With(context.Background(), thread.New())
	ctx2 := thread.With(context.Background(), thread.New())

	v1, _ := m.Variables(ctx1, true)
	if _, err := m.Variables(ctx2, true); err != nil {
		t.Fatalf("Variables: %v", err)
	}
	global := h.GlobalFrame()
	global.Set("x", "1")

	if !m.ReleaseVariables(ctx1, false) {
		t.Fatal("release reported no context")
	}
	if !v1.Released() {
		t.Error("released context not marked")
	}
	if h.GlobalFrame() != global {
		t.Fatal("non-global release touched the global frame")
	}
	if val, _ := global.Get("x"); val != "1" {
		t.Errorf("global variable lost: %q", val)
	}
	if m.ReleaseVariables(ctx1, false) {
		t.Error("second release reported a context")
	}

	// A fresh instance after release.
	v1b, _ := m.Variables(ctx1, true)
	if v1b == v1 {
		t.Error("released context was resurrected")
	}

	if !m.ReleaseVariables(ctx2, true) {
		t.Fatal("global release reported no context")
	}
	if h.GlobalFrame() != nil {
		t.Error("global release kept the global frame")
	}
}

func TestManager_CacheInvalidatedOnRelease(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	m := NewManager(newFakeHost(0))

	a, _ := m.Test(ctx, true)
	m.ReleaseTest(ctx, false)

	got, err := m.Test(ctx, false)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if got != nil {
		t.Fatal("released context served from cache")
	}
	b, _ := m.Test(ctx, true)
	if a == b {
		t.Error("expected a fresh context")
	}
}

func TestManager_Purge(t *testing.T) {
	primary := thread.New()
	h := newFakeHost(primary)
	m := NewManager(h)

	pctx := thread.With(context.Background(), primary)
	others := []context.Context{
		thread.With(context.Background(), thread.New()),
		thread.With(context.Background(), thread.New()),
	}

	for _, ctx := range append([]context.Context{pctx}, others...) {
		if _, err := m.Engine(ctx, true); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Variables(ctx, true); err != nil {
			t.Fatal(err)
		}
	}

	if got := m.Purge(true, true); got != 4 {
		t.Fatalf("first purge removed %d, want 4", got)
	}
	if got := m.Purge(true, true); got != 0 {
		t.Fatalf("second purge removed %d, want 0", got)
	}
	if h.GlobalFrame() == nil {
		t.Fatal("non-primary purge tore down the global frame")
	}

	v, err := m.Variables(pctx, false)
	if err != nil || v == nil {
		t.Fatalf("primary context lost: %v", err)
	}

	if got := m.Purge(false, true); got != 2 {
		t.Fatalf("full purge removed %d, want 2", got)
	}
	if h.GlobalFrame() != nil {
		t.Error("full global purge kept the global frame")
	}
	if got := m.Counts().Total(); got != 0 {
		t.Errorf("%d contexts left", got)
	}
}

func TestManager_PurgeLeavesOtherInterpreters(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	m1 := NewManager(newFakeHost(0))
	m2 := NewManager(newFakeHost(0))

	m1.Engine(ctx, true)
	m2.Engine(ctx, true)

	if got := m1.Purge(false, false); got != 1 {
		t.Fatalf("purge removed %d, want 1", got)
	}
	c, _ := m2.Engine(ctx, false)
	if c == nil {
		t.Error("other interpreter's context was purged")
	}
}

func TestManager_Free(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	h := newFakeHost(0)
	m := NewManager(h)

	m.Engine(ctx, true)
	m.Interactive(ctx, true)
	m.Test(ctx, true)
	m.Variables(ctx, true)

	if err := m.Free(ctx, false); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if m.Host() == nil {
		t.Fatal("non-global free dropped the interpreter")
	}
	if got := m.Counts().Total(); got != 0 {
		t.Fatalf("%d contexts left after free", got)
	}

	m.Engine(ctx, true)
	if err := m.Free(ctx, true); err != nil {
		t.Fatalf("Free(global): %v", err)
	}
	if m.Host() != nil {
		t.Fatal("global free kept the interpreter")
	}
	if CountsFor(h.ID()).Total() != 0 {
		t.Error("contexts left after global free")
	}

	_, err := m.Engine(ctx, true)
	if !errors.Is(err, errors.ErrInvalidInterpreter) {
		t.Errorf("expected invalid interpreter, got %v", err)
	}
}

func TestManager_ReleaseThread(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	m := NewManager(newFakeHost(0))

	m.Engine(ctx, true)
	m.Variables(ctx, true)

	if got := m.ReleaseThread(ctx); got != 2 {
		t.Errorf("ReleaseThread = %d, want 2", got)
	}
	if got := m.ReleaseThread(ctx); got != 0 {
		t.Errorf("second ReleaseThread = %d, want 0", got)
	}
}

func TestReleaseAll(t *testing.T) {
	tid := thread.New()
	ctx := thread.With(context.Background(), tid)
	m1 := NewManager(newFakeHost(0))
	m2 := NewManager(newFakeHost(0))

	m1.Engine(ctx, true)
	m2.Test(ctx, true)
	m2.Variables(ctx, true)

	if got := ReleaseAll(tid); got != 3 {
		t.Errorf("ReleaseAll = %d, want 3", got)
	}
	if c, _ := m2.Test(ctx, false); c != nil {
		t.Error("context survived ReleaseAll")
	}
}

func TestInteractiveContext_Pause(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	h := newFakeHost(0)
	m := NewManager(h)
	ic, err := m.Interactive(ctx, true)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("done", func(t *testing.T) {
		var polls int
		err := ic.Pause(ctx, time.Millisecond, func() bool {
			polls++
			return polls == 3
		})
		if err != nil {
			t.Fatalf("Pause: %v", err)
		}
		if ic.ActiveLoops != 0 || ic.TotalLoops != 1 {
			t.Errorf("loops active=%d total=%d", ic.ActiveLoops, ic.TotalLoops)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		h.canceled.Store(true)
		defer h.canceled.Store(false)
		err := ic.Pause(ctx, time.Millisecond, func() bool { return false })
		if err != ErrPauseCanceled {
			t.Fatalf("expected cancel, got %v", err)
		}
	})

	t.Run("context", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		err := ic.Pause(cctx, time.Millisecond, func() bool { return false })
		if err != context.DeadlineExceeded {
			t.Fatalf("expected deadline, got %v", err)
		}
	})
}

func TestTestContext_Record(t *testing.T) {
	ctx := thread.With(context.Background(), thread.New())
	m := NewManager(newFakeHost(0))
	tc, _ := m.Test(ctx, true)

	tc.Record("a-1", TestPassed)
	tc.Record("a-2", TestFailed)
	tc.Record("a-3", TestSkipped)

	if tc.Total() != 3 {
		t.Errorf("Total = %d", tc.Total())
	}
	if len(tc.Failures) != 1 || tc.Failures[0] != "a-2" {
		t.Errorf("Failures = %v", tc.Failures)
	}
	if len(tc.Skipped) != 1 {
		t.Errorf("Skipped = %v", tc.Skipped)
	}
}
