package callback

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/thread"
)

func newTestInterp(t *testing.T, opts interp.Options) (*interp.Interpreter, context.Context) {
	t.Helper()
	ctx := thread.With(context.Background(), thread.New())
	in := interp.New(ctx, opts)
	t.Cleanup(func() { in.Close(ctx) })
	return in, ctx
}

func mustCreate(t *testing.T, in *interp.Interpreter, name string, args []string, flags Flags, opts ...Option) *Callback {
	t.Helper()
	cb, err := Create(in, name, args, flags, opts...)
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	return cb
}

// registerKeep adds a command that takes a reference on its object
// argument and returns it.
func registerKeep(in *interp.Interpreter) {
	in.RegisterCommand("keep", func(_ context.Context, in *interp.Interpreter, args []string) (string, error) {
		if len(args) != 2 || !in.AddRef(args[1]) {
			return "", fmt.Errorf("keep: no object in %v", args[1:])
		}
		return args[1], nil
	})
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		names   []string
		want    Flags
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"none"}, 0, false},
		{[]string{"default"}, Default, false},
		{[]string{"arguments", "throwonerror"}, Arguments | ThrowOnError, false},
		{[]string{"Asynchronous"}, Asynchronous, false},
		{[]string{"create", "tostring"}, CreateObject | ToString, false},
		{[]string{"bogus"}, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFlags(tt.names)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFlags(%v) error = %v, wantErr %v", tt.names, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFlags(%v) = %v, want %v", tt.names, got, tt.want)
		}
	}
}

func TestParseShape(t *testing.T) {
	for s := ShapeGeneric; s < numShapes; s++ {
		got, err := ParseShape(s.String())
		if err != nil || got != s {
			t.Errorf("ParseShape(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseShape("window-proc"); !errors.Is(err, errors.ErrUnsupportedShape) {
		t.Errorf("ParseShape(window-proc) = %v, want unsupported shape", err)
	}
}

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name    string
		typ     reflect.Type
		flags   MarshalFlags
		want    Shape
		wantErr bool
	}{
		{"named generic", reflect.TypeFor[GenericFunc](), 0, ShapeGeneric, false},
		{"named thread start", reflect.TypeFor[ThreadStartFunc](), 0, ShapeThreadStart, false},
		{"named async", reflect.TypeFor[AsyncResultFunc](), 0, ShapeAsyncResult, false},
		{"plain no args", reflect.TypeFor[func(context.Context) error](), 0, ShapeGeneric, false},
		{"plain no args, no generic", reflect.TypeFor[func(context.Context) error](), MarshalNoGenericCallback, ShapeThreadStart, false},
		{"one value", reflect.TypeFor[func(context.Context, any) error](), 0, ShapeParameterizedThreadStart, false},
		{"event", reflect.TypeFor[func(context.Context, any, any) error](), 0, ShapeEventHandler, false},
		{"dynamic", reflect.TypeFor[func(context.Context, []any) (any, error)](), 0, ShapeDynamic, false},
		{"forced dynamic", reflect.TypeFor[func(int) string](), MarshalDynamicCallback, ShapeDynamic, false},
		{"no context", reflect.TypeFor[func() error](), 0, 0, true},
		{"not a func", reflect.TypeFor[int](), 0, 0, true},
		{"typed value", reflect.TypeFor[func(context.Context, int) error](), 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ShapeOf(tt.typ, tt.flags)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrUnsupportedShape) {
					t.Fatalf("ShapeOf() error = %v, want unsupported shape", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ShapeOf() = %v, %v, want %v", got, err, tt.want)
			}
		})
	}
}

func TestCreate_DefaultName(t *testing.T) {
	in, _ := newTestInterp(t, interp.Options{})

	cb := mustCreate(t, in, "", []string{"a", "b"}, Default)
	if cb.Name() != "a b" {
		t.Errorf("Name() = %q, want %q", cb.Name(), "a b")
	}
	again := mustCreate(t, in, "a b", []string{"other"}, 0)
	if again != cb {
		t.Error("second Create returned a different callback")
	}
	if got := in.Callbacks(); len(got) != 1 {
		t.Errorf("Callbacks() = %v, want one", got)
	}
}

func TestCreate_NilInterpreter(t *testing.T) {
	if _, err := Create(nil, "x", nil, 0); !errors.Is(err, errors.ErrInvalidInterpreter) {
		t.Errorf("Create(nil) = %v, want invalid interpreter", err)
	}
}

func TestAdapterCache(t *testing.T) {
	in, _ := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "cache", []string{"list"}, Default)

	intT := reflect.TypeFor[int]()
	strT := reflect.TypeFor[string]()

	a1, err := cb.GetAdapter(ShapeDynamic, intT, []reflect.Type{intT}, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := cb.GetAdapter(ShapeDynamic, intT, []reflect.Type{intT}, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Error("same signature produced distinct adapters")
	}

	a3, err := cb.GetAdapter(ShapeDynamic, intT, []reflect.Type{strT}, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if a3 == a1 {
		t.Error("different signature reused an adapter")
	}

	g1, _ := cb.GetAdapter(ShapeGeneric, nil, nil, nil, true)
	g2, _ := cb.GetAdapter(ShapeGeneric, intT, nil, nil, true)
	if g1 == nil || g1 != g2 {
		t.Error("fixed shape ignored its declared signature")
	}

	got := cb.Counters()
	want := Counters{Fetched: 5, Reused: 2, Created: 3}
	if got != want {
		t.Errorf("Counters() = %+v, want %+v", got, want)
	}
}

func TestAdapterCache_DynamicForced(t *testing.T) {
	in, _ := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "forced", []string{"list"}, Default, WithMarshalFlags(MarshalDynamicCallback))

	a, err := cb.AdapterFor(reflect.TypeFor[GenericFunc]())
	if err != nil {
		t.Fatal(err)
	}
	if a.Shape() != ShapeDynamic || a.Dynamic() == nil {
		t.Errorf("adapter shape = %v, want dynamic", a.Shape())
	}
}

func TestGetAdapter_BindFailure(t *testing.T) {
	in, _ := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "bind", []string{"list"}, Default)
	intT := reflect.TypeFor[int]()

	a, err := cb.GetAdapter(ShapeDynamic, nil, []reflect.Type{intT}, []MarshalFlags{0, MarshalByRef}, false)
	if a != nil || err != nil {
		t.Errorf("GetAdapter(no throw) = %v, %v, want nil, nil", a, err)
	}
	if _, err := cb.GetAdapter(ShapeDynamic, nil, []reflect.Type{intT}, []MarshalFlags{0, MarshalByRef}, true); err == nil {
		t.Error("GetAdapter(throw) succeeded")
	}
}

func TestFireAsyncResult(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	registerKeep(in)
	cb := mustCreate(t, in, "echo", []string{"list", "echo"}, Arguments|CreateObject)

	res, err := cb.FireAsyncResult(ctx, "done")
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "echo done" {
		t.Errorf("string arg: got %q", res.Value)
	}

	type completion struct{ id int }
	hold := mustCreate(t, in, "hold", []string{"keep"}, Arguments|CreateObject|ThrowOnError)
	res, err = hold.FireAsyncResult(ctx, &completion{id: 7})
	if err != nil {
		t.Fatal(err)
	}
	name := res.Value
	if !in.IsObject(name) {
		t.Fatalf("object arg: got %q", res.Value)
	}
	if v, _ := in.GetObject(name); v.(*completion).id != 7 {
		t.Errorf("object %s holds %v", name, v)
	}
	if refs := in.ObjectRefs(name); refs != 1 {
		t.Errorf("refs = %d, want 1", refs)
	}
}

func TestFire_ArgumentObjectsReleased(t *testing.T) {
	type sender struct{ id int }
	type event struct{ n int }

	tests := []struct {
		name   string
		script []string
		fire   func(context.Context, *Callback, int) error
		want   int
	}{
		{
			name:   "event handler",
			script: []string{"list"},
			fire: func(ctx context.Context, cb *Callback, i int) error {
				_, err := cb.FireEventHandler(ctx, &sender{id: i}, &event{n: i})
				return err
			},
			want: 0,
		},
		{
			name:   "dynamic",
			script: []string{"list"},
			fire: func(ctx context.Context, cb *Callback, i int) error {
				_, err := cb.FireDynamic(ctx, []any{&sender{id: i}, "x"})
				return err
			},
			want: 0,
		},
		{
			name:   "kept by script",
			script: []string{"keep"},
			fire: func(ctx context.Context, cb *Callback, i int) error {
				_, err := cb.FireAsyncResult(ctx, &event{n: i})
				return err
			},
			want: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			registerKeep(in)
			cb := mustCreate(t, in, "objs", tt.script, Arguments|CreateObject|ThrowOnError)

			for i := range 50 {
				if err := tt.fire(ctx, cb, i); err != nil {
					t.Fatalf("fire %d: %v", i, err)
				}
			}
			if got := len(in.Objects()); got != tt.want {
				t.Errorf("live objects = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFire_QueuedArgumentObjects(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	type payload struct{ v int }
	cb := mustCreate(t, in, "later", []string{"set", "seen"}, Arguments|CreateObject|Asynchronous|ThrowOnError)

	res, err := cb.FireAsyncResult(ctx, &payload{v: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Fatalf("result = %+v, want queued", res)
	}
	if got := len(in.Objects()); got != 1 {
		t.Fatalf("live objects before processing = %d, want 1", got)
	}

	if n, err := in.ProcessEvents(ctx); err != nil || n != 1 {
		t.Fatalf("ProcessEvents() = %d, %v", n, err)
	}
	seen, err := in.GetVar(ctx, "seen")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(seen, "#") {
		t.Errorf("seen = %q, want an object name", seen)
	}
	if got := len(in.Objects()); got != 0 {
		t.Errorf("live objects after processing = %d, want 0", got)
	}
}

func TestFireEventHandler_ParameterNames(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "ev", []string{"list"}, Arguments|UseParameterNames|ToString)

	res, err := cb.FireEventHandler(ctx, "button", 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "sender button e 3" {
		t.Errorf("got %q", res.Value)
	}
}

func TestFailurePolicy(t *testing.T) {
	tests := []struct {
		name    string
		flags   Flags
		script  []string
		wantErr error
	}{
		{"swallowed", Arguments, []string{"error", "boom"}, nil},
		{"complain only", Arguments | Complain, []string{"error", "boom"}, nil},
		{"thrown", Arguments | ThrowOnError, []string{"error", "boom"}, errors.ErrScriptFailure},
		{"success", Arguments | ThrowOnError, []string{"list", "ok"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			cb := mustCreate(t, in, "p", tt.script, tt.flags)
			_, err := cb.FireGeneric(ctx)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("FireGeneric() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FireGeneric() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFireAndForget(t *testing.T) {
	for _, script := range [][]string{{"list", "ok"}, {"error", "boom"}} {
		t.Run(script[0], func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			cb := mustCreate(t, in, "once", script, Arguments|FireAndForget)

			if _, err := cb.FireGeneric(ctx); err != nil {
				t.Fatal(err)
			}
			if _, ok := in.LookupCallback("once"); ok {
				t.Error("callback still registered after fire-and-forget")
			}
		})
	}
}

func TestInvoke_UnsupportedOwner(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	in.SetOwner("not an interpreter")
	cb := mustCreate(t, in, "owned", []string{"list"}, Arguments|UseOwner)

	_, err := cb.FireGeneric(ctx)
	if !errors.Is(err, errors.ErrUnsupportedOwner) {
		t.Fatalf("FireGeneric() = %v, want unsupported owner", err)
	}
}

func TestInvoke_OwnerInterpreter(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	owner, _ := newTestInterp(t, interp.Options{PrimaryThread: thread.Current(ctx)})
	owner.RegisterCommand("whoami", func(context.Context, *interp.Interpreter, []string) (string, error) {
		return "owner", nil
	})
	in.SetOwner(owner)
	cb := mustCreate(t, in, "w", []string{"whoami"}, Arguments|UseOwner)

	res, err := cb.FireGeneric(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "owner" {
		t.Errorf("got %q, want owner", res.Value)
	}
}

func TestInvoke_Asynchronous(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{QueueSize: 1})
	cb := mustCreate(t, in, "later", []string{"set", "fired", "1"}, Arguments|Asynchronous|ThrowOnError)

	res, err := cb.Invoke(ctx, nil)
	if err != nil || res.Code != interp.OK {
		t.Fatalf("first Invoke = %v, %v", res, err)
	}
	if _, err := cb.Invoke(ctx, nil); !errors.Is(err, errors.ErrQueueFailure) {
		t.Fatalf("second Invoke = %v, want queue failure", err)
	}

	n, err := in.ProcessEvents(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ProcessEvents() = %d, %v", n, err)
	}
	if v, err := in.GetVar(ctx, "fired"); err != nil || v != "1" {
		t.Errorf("fired = %q, %v", v, err)
	}
}

func TestInvoke_ScriptThread(t *testing.T) {
	st := interp.NewScriptThread(4)
	t.Cleanup(func() { st.Close() })
	ctx := thread.With(context.Background(), thread.New())

	ok := mustCreate(t, st.Interpreter(), "ok", []string{"list", "from", "thread"}, Arguments|UseOwner)
	res, err := ok.FireGeneric(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "from thread" {
		t.Errorf("got %q", res.Value)
	}

	bad := mustCreate(t, st.Interpreter(), "bad", []string{"error", "boom"}, Arguments|UseOwner)
	res, err = bad.Invoke(ctx, nil)
	if !errors.Is(err, errors.ErrScriptFailure) {
		t.Fatalf("Invoke() = %v, want script failure", err)
	}
	if res.ErrorLine != 0 {
		t.Errorf("ErrorLine = %d, want 0", res.ErrorLine)
	}
}

func TestResetCancel(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	in.Cancel(false)
	cb := mustCreate(t, in, "rc", []string{"list", "ran"}, Arguments|ResetCancel|ThrowOnError)

	res, err := cb.FireGeneric(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "ran" || in.Canceled() {
		t.Errorf("got %q, canceled %v", res.Value, in.Canceled())
	}
}

func TestDisposeThread(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	worker := thread.With(context.Background(), thread.New())

	cb := mustCreate(t, in, "body", []string{"set", "x", "1"}, Arguments)
	if _, err := cb.FireThreadStart(worker); err != nil {
		t.Fatal(err)
	}
	if ec, _ := in.Contexts().Engine(worker, false); ec != nil {
		t.Error("worker engine context survived thread start")
	}

	if _, err := cb.FireThreadStart(ctx); err != nil {
		t.Fatal(err)
	}
	if ec, _ := in.Contexts().Engine(ctx, false); ec == nil {
		t.Error("primary thread context was released")
	}
}

func TestDispose(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "gone", []string{"list"}, Default)
	cb.Dispose()

	if _, ok := in.LookupCallback("gone"); ok {
		t.Error("disposed callback still registered")
	}
	if _, err := cb.FireGeneric(ctx); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("FireGeneric() after Dispose = %v, want closed", err)
	}
}
