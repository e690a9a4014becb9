package callback

import (
	"context"
	"encoding/binary"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/internal/wasmbuild"
	"github.com/wippyai/script-core/interp"
)

type fakeMemory struct {
	api.Memory
	buf []byte
}

func (m *fakeMemory) in(off, n uint32) bool { return uint64(off)+uint64(n) <= uint64(len(m.buf)) }

func (m *fakeMemory) Read(off, n uint32) ([]byte, bool) {
	if !m.in(off, n) {
		return nil, false
	}
	return m.buf[off : off+n], true
}

func (m *fakeMemory) Write(off uint32, v []byte) bool {
	if !m.in(off, uint32(len(v))) {
		return false
	}
	copy(m.buf[off:], v)
	return true
}

func (m *fakeMemory) ReadUint32Le(off uint32) (uint32, bool) {
	if !m.in(off, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[off:]), true
}

func (m *fakeMemory) WriteUint32Le(off, v uint32) bool {
	if !m.in(off, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[off:], v)
	return true
}

func (m *fakeMemory) ReadUint64Le(off uint32) (uint64, bool) {
	if !m.in(off, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[off:]), true
}

func (m *fakeMemory) WriteUint64Le(off uint32, v uint64) bool {
	if !m.in(off, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[off:], v)
	return true
}

type fakeModule struct {
	api.Module
	mem *fakeMemory
}

func (m *fakeModule) Memory() api.Memory { return m.mem }

func newFakeModule() *fakeModule {
	return &fakeModule{mem: &fakeMemory{buf: make([]byte, 1024)}}
}

func registerAdd(in *interp.Interpreter) {
	in.RegisterCommand("add", func(_ context.Context, _ *interp.Interpreter, args []string) (string, error) {
		var sum int64
		for _, a := range args[1:] {
			n, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return "", err
			}
			sum += n
		}
		return strconv.FormatInt(sum, 10), nil
	})
}

func registerSetOut(in *interp.Interpreter) {
	in.RegisterCommand("setout", func(ctx context.Context, in *interp.Interpreter, args []string) (string, error) {
		return args[2], in.SetVar(ctx, args[1], args[2])
	})
}

// instantiate exports the adapter as env.<name> and returns the "call"
// export of a guest module that forwards its parameters to the import.
func instantiate(t *testing.T, ctx context.Context, a *Adapter, name string) api.Function {
	t.Helper()
	hf, err := a.HostFunc()
	if err != nil {
		t.Fatal(err)
	}
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	_, err = r.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithGoModuleFunction(hf.Fn, hf.Params, hf.Results).Export(name).
		Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}

	ft := wasmbuild.FuncType{Params: valTypes(hf.Params), Results: valTypes(hf.Results)}
	m := wasmbuild.New()
	imported := m.ImportFunc("env", name, ft)
	var body wasmbuild.Code
	for i := range ft.Params {
		body.LocalGet(uint32(i))
	}
	body.Call(imported)
	m.ExportFunc("call", m.Func(ft, nil, body.Bytes()))

	guest, err := r.Instantiate(ctx, m.Encode())
	if err != nil {
		t.Fatal(err)
	}
	fn := guest.ExportedFunction("call")
	if fn == nil {
		t.Fatal("guest does not export call")
	}
	return fn
}

func valTypes(types []api.ValueType) []wasmbuild.ValType {
	out := make([]wasmbuild.ValType, len(types))
	for i, v := range types {
		out[i] = wasmbuild.ValType(v)
	}
	return out
}

func TestHostFunc_FixedArity(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	registerAdd(in)
	cb := mustCreate(t, in, "add", []string{"add"}, Arguments)

	i32 := reflect.TypeFor[int32]()
	a, err := cb.GetAdapter(ShapeDynamic, i32, []reflect.Type{i32, i32}, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	fn := instantiate(t, ctx, a, "add")

	out, err := fn.Call(ctx, api.EncodeI32(20), api.EncodeI32(22))
	if err != nil {
		t.Fatal(err)
	}
	if got := api.DecodeI32(out[0]); got != 42 {
		t.Errorf("add(20, 22) = %d", got)
	}
}

func TestHostFunc_Generic(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "tick", []string{"incr", "ticks"}, Arguments)
	a, err := cb.GetAdapter(ShapeGeneric, nil, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	fn := instantiate(t, ctx, a, "tick")

	for range 3 {
		if _, err := fn.Call(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := in.GetVar(ctx, "ticks"); v != "3" {
		t.Errorf("ticks = %q, want 3", v)
	}
}

func TestHostFunc_ThrowOnError(t *testing.T) {
	tests := []struct {
		name     string
		flags    Flags
		wantTrap bool
	}{
		{"logged", Arguments, false},
		{"trapped", Arguments | ThrowOnError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			cb := mustCreate(t, in, "fail", []string{"error", "boom"}, tt.flags)
			i32 := reflect.TypeFor[int32]()
			a, err := cb.GetAdapter(ShapeDynamic, i32, nil, nil, true)
			if err != nil {
				t.Fatal(err)
			}
			fn := instantiate(t, ctx, a, "fail")

			out, err := fn.Call(ctx)
			if tt.wantTrap {
				if err == nil {
					t.Fatal("expected trap")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if out[0] != 0 {
				t.Errorf("result = %d, want 0", out[0])
			}
		})
	}
}

func TestHostFunc_ByRef(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  uint32
	}{
		{"converted", Arguments, 99},
		{"strict mismatch", Arguments | ByRefStrict, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			registerSetOut(in)
			cb := mustCreate(t, in, "out", []string{"setout"}, tt.flags)

			i32, i64 := reflect.TypeFor[int32](), reflect.TypeFor[int64]()
			a, err := cb.GetAdapter(ShapeDynamic, nil, []reflect.Type{i32, i64}, []MarshalFlags{MarshalByRef}, true)
			if err != nil {
				t.Fatal(err)
			}
			hf, err := a.HostFunc()
			if err != nil {
				t.Fatal(err)
			}
			if len(hf.Params) != 2 || hf.Params[0] != api.ValueTypeI32 || hf.Params[1] != api.ValueTypeI64 {
				t.Fatalf("params = %v", hf.Params)
			}

			mod := newFakeModule()
			const ptr = 64
			mod.mem.WriteUint32Le(ptr, 5)
			hf.Fn(ctx, mod, []uint64{ptr, api.EncodeI64(99)})

			got, _ := mod.mem.ReadUint32Le(ptr)
			if got != tt.want {
				t.Errorf("slot = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFireDynamic_ByRefStrict(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	registerSetOut(in)
	cb := mustCreate(t, in, "out", []string{"setout"}, Arguments|ByRefStrict)

	intT := reflect.TypeFor[int]()
	if _, err := cb.GetAdapter(ShapeDynamic, nil, []reflect.Type{intT, intT}, []MarshalFlags{MarshalByRef}, true); err != nil {
		t.Fatal(err)
	}

	args := []any{1, 7}
	_, err := cb.FireDynamic(ctx, args)
	if !errors.Is(err, errors.ErrByRefTypeMismatch) {
		t.Fatalf("FireDynamic() = %v, want by-ref type mismatch", err)
	}
	if args[0] != 1 {
		t.Errorf("slot overwritten: %v", args[0])
	}
	vc, _ := in.Contexts().Variables(ctx, false)
	if vc != nil {
		for _, n := range vc.CurrentFrame().Names() {
			if strings.HasPrefix(n, "byref_") {
				t.Errorf("temporary %s left behind", n)
			}
		}
	}
}

func TestFireDynamic_ByRefObject(t *testing.T) {
	type conn struct{ id int }
	anyT := reflect.TypeFor[any]()
	tests := []struct {
		name  string
		flags Flags
	}{
		{"converted", Arguments | CreateObject},
		{"strict", Arguments | CreateObject | ByRefStrict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			cb := mustCreate(t, in, "ref", []string{"list"}, tt.flags|ThrowOnError)
			if _, err := cb.GetAdapter(ShapeDynamic, nil, []reflect.Type{anyT}, []MarshalFlags{MarshalByRef}, true); err != nil {
				t.Fatal(err)
			}

			c := &conn{id: 1}
			args := []any{c}
			if _, err := cb.FireDynamic(ctx, args); err != nil {
				t.Fatal(err)
			}
			if got, ok := args[0].(*conn); !ok || got != c {
				t.Errorf("slot = %v, want the original object", args[0])
			}
			if objs := in.Objects(); len(objs) != 0 {
				t.Errorf("objects left behind: %v", objs)
			}
		})
	}
}

func TestFireDynamic_ReturnValue(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  any
	}{
		{"converted", Arguments, 42},
		{"default value", Arguments | ReturnValue | DefaultValue, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ctx := newTestInterp(t, interp.Options{})
			registerAdd(in)
			cb := mustCreate(t, in, "r", []string{"add", "40", "2"}, tt.flags)
			intT := reflect.TypeFor[int]()
			if _, err := cb.GetAdapter(ShapeDynamic, intT, nil, nil, true); err != nil {
				t.Fatal(err)
			}
			got, err := cb.FireDynamic(ctx, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("FireDynamic() = %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestFireDynamic_ReturnObject(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	type conn struct{ name string }
	name, err := in.AddObject(&conn{name: "db"})
	if err != nil {
		t.Fatal(err)
	}
	cb := mustCreate(t, in, "obj", []string{"list", name}, Arguments|ReturnValue|AddReference)
	if _, err := cb.GetAdapter(ShapeDynamic, nil, nil, nil, true); err != nil {
		t.Fatal(err)
	}

	got, err := cb.FireDynamic(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := got.(*conn); !ok || c.name != "db" {
		t.Fatalf("FireDynamic() = %v", got)
	}
	if refs := in.ObjectRefs(name); refs != 2 {
		t.Errorf("refs = %d, want 2", refs)
	}
}

func TestHostFunc_CBOR(t *testing.T) {
	in, ctx := newTestInterp(t, interp.Options{})
	cb := mustCreate(t, in, "cat", []string{"concat"}, Arguments)

	strT, i64 := reflect.TypeFor[string](), reflect.TypeFor[int64]()
	a, err := cb.GetAdapter(ShapeDynamic, strT, []reflect.Type{strT, i64}, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Signature().UsesCBOR() {
		t.Fatal("string signature should use CBOR")
	}
	hf, err := a.HostFunc()
	if err != nil {
		t.Fatal(err)
	}

	payload, err := cbor.Marshal([]any{"hello", 5})
	if err != nil {
		t.Fatal(err)
	}
	mod := newFakeModule()
	mod.mem.Write(0, payload)

	stack := []uint64{0, uint64(len(payload)), 256, 512}
	hf.Fn(ctx, mod, stack)
	n := api.DecodeI32(stack[0])
	if n <= 0 {
		t.Fatalf("reply length = %d", n)
	}
	raw, _ := mod.mem.Read(256, uint32(n))
	var reply DynamicReply
	if err := cbor.Unmarshal(raw, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != "hello 5" || reply.Error != "" {
		t.Errorf("reply = %+v", reply)
	}

	small := []uint64{0, uint64(len(payload)), 256, 2}
	hf.Fn(ctx, mod, small)
	if got := api.DecodeI32(small[0]); got != -n {
		t.Errorf("short buffer = %d, want %d", got, -n)
	}
}
