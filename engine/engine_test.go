package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/internal/wasmbuild"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg      *Config
		name     string
		wantHost string
	}{
		{nil, "nil config", DefaultHostModule},
		{&Config{}, "default config", DefaultHostModule},
		{&Config{MemoryLimitPages: 256}, "16MB limit", DefaultHostModule},
		{&Config{HostModule: "env"}, "custom host", "env"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := New(ctx, tc.cfg)
			defer e.Close(ctx)

			if e.Runtime() == nil {
				t.Error("engine runtime should not be nil")
			}
			if e.HostModule() != tc.wantHost {
				t.Errorf("HostModule() = %q, want %q", e.HostModule(), tc.wantHost)
			}
		})
	}
}

func echoModule(host string) []byte {
	m := wasmbuild.New()
	notify := m.ImportFunc(host, "notify", wasmbuild.FuncType{Params: []wasmbuild.ValType{wasmbuild.I32}})
	m.Memory(1)
	m.Data(8, []byte("echo\x00"))

	var body wasmbuild.Code
	body.LocalGet(0).Call(notify).LocalGet(0)
	fn := m.Func(wasmbuild.FuncType{
		Params:  []wasmbuild.ValType{wasmbuild.I32},
		Results: []wasmbuild.ValType{wasmbuild.I32},
	}, nil, body.Bytes())
	m.ExportFunc("echo", fn)
	return m.Encode()
}

func TestExportAndInstantiate(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, nil)
	defer e.Close(ctx)

	var got []uint32
	err := e.Export("notify", func(_ context.Context, _ api.Module, stack []uint64) {
		got = append(got, api.DecodeU32(stack[0]))
	}, []api.ValueType{api.ValueTypeI32}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Exported("notify") {
		t.Error("Exported(notify) = false")
	}

	mod, err := e.Compile(ctx, "echo", echoModule(DefaultHostModule))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mod.ExportedFunction("echo"); !ok {
		t.Fatalf("exports = %v", mod.ExportNames())
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	out, err := inst.Call(ctx, "echo", 7)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 7 || len(got) != 1 || got[0] != 7 {
		t.Errorf("echo = %v, host saw %v", out, got)
	}

	s, err := inst.Memory().ReadCString(8, 64)
	if err != nil || s != "echo" {
		t.Errorf("ReadCString = %q, %v", s, err)
	}

	second, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("second instance: %v", err)
	}
	second.Close(ctx)

	if err := e.Export("late", func(context.Context, api.Module, []uint64) {}, nil, nil); !errors.Is(err, errors.ErrClosed) {
		t.Errorf("Export after seal = %v, want closed", err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if !inst.Closed() || inst.Function("echo") != nil {
		t.Error("closed instance still resolves functions")
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := inst.Call(ctx, "echo", 1); err == nil {
		t.Error("Call on closed instance succeeded")
	}
}

func TestExport_Duplicate(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, nil)
	defer e.Close(ctx)

	noop := api.GoModuleFunc(func(context.Context, api.Module, []uint64) {})
	if err := e.Export("f", noop, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.Export("f", noop, nil, nil); err == nil {
		t.Error("duplicate export succeeded")
	}
}

func TestInstantiate_MissingHostImport(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, nil)
	defer e.Close(ctx)

	mod, err := e.Compile(ctx, "echo", echoModule("elsewhere"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mod.Instantiate(ctx); !errors.Is(err, errors.ErrBindFailure) {
		t.Errorf("Instantiate() = %v, want bind failure", err)
	}
}

func TestInstantiate_WASI(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, &Config{WASI: true})
	defer e.Close(ctx)

	m := wasmbuild.New()
	i32 := wasmbuild.I32
	m.ImportFunc(wasiModule, "fd_write", wasmbuild.FuncType{
		Params:  []wasmbuild.ValType{i32, i32, i32, i32},
		Results: []wasmbuild.ValType{i32},
	})
	m.Memory(1)

	mod, err := e.Compile(ctx, "wasi-user", m.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mod.Instantiate(ctx); err != nil {
		t.Fatalf("Instantiate() = %v", err)
	}
	if err := e.InitWASI(ctx); err != nil {
		t.Errorf("repeated InitWASI = %v", err)
	}
}

func TestCompile_Invalid(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, nil)
	defer e.Close(ctx)

	if _, err := e.Compile(ctx, "junk", []byte("not wasm")); err == nil {
		t.Error("Compile(junk) succeeded")
	}
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.wasm"), echoModule(DefaultHostModule), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(ctx, &Config{SearchPaths: []string{t.TempDir(), dir}})
	defer e.Close(ctx)

	mod, err := e.LoadFile(ctx, "lib.wasm")
	if err != nil {
		t.Fatal(err)
	}
	if mod.Name() != "lib.wasm" {
		t.Errorf("Name() = %q", mod.Name())
	}

	if _, err := e.LoadFile(ctx, "missing.wasm"); !errors.Is(err, errors.ErrLibraryNotFound) {
		t.Errorf("LoadFile(missing) = %v, want library not found", err)
	}
	if _, err := e.LoadFile(ctx, filepath.Join(dir, "nope.wasm")); !errors.Is(err, errors.ErrLibraryNotFound) {
		t.Errorf("LoadFile(abs missing) = %v, want library not found", err)
	}
}

func TestMemory_Bounds(t *testing.T) {
	ctx := context.Background()
	e := New(ctx, nil)
	defer e.Close(ctx)

	m := wasmbuild.New()
	m.Memory(1)
	m.Data(0, []byte{'a', 'b'})
	mod, err := e.Compile(ctx, "mem", m.Encode())
	if err != nil {
		t.Fatal(err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mem := inst.Memory()

	if err := mem.WriteU32(16, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.ReadU32(16); err != nil || v != 0xdeadbeef {
		t.Errorf("ReadU32 = %#x, %v", v, err)
	}
	if _, err := mem.ReadU64(mem.Size() - 4); err == nil {
		t.Error("ReadU64 past end succeeded")
	}
	if _, err := mem.ReadCString(mem.Size(), 8); err == nil {
		t.Error("ReadCString past end succeeded")
	}
	if _, err := mem.ReadCString(0, 2); err == nil {
		t.Error("unterminated ReadCString succeeded")
	}
}
