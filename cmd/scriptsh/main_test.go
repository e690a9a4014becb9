package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wippyai/script-core/runtime"
	"github.com/wippyai/script-core/thread"
)

func newTestRuntime(t *testing.T) (context.Context, *runtime.Runtime) {
	t.Helper()
	ctx := thread.With(context.Background(), thread.New())
	rt, err := runtime.New(ctx, nil)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return ctx, rt
}

func TestExportList(t *testing.T) {
	e := exportList{}
	if err := e.Set("tick=incr ticks"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set("done=set finished 1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := e.Set("noequals"); err == nil {
		t.Error("Set without '=' should fail")
	}
	if got, want := e.String(), "done=set finished 1,tick=incr ticks"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestEvalLines(t *testing.T) {
	ctx, rt := newTestRuntime(t)
	in := strings.NewReader("set x 2\n\n# skipped\nerror boom\nincr x\n")
	var out bytes.Buffer
	if err := evalLines(ctx, rt, in, &out); err != nil {
		t.Fatalf("evalLines: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[0] != "2" || !strings.HasPrefix(lines[1], "error: ") || lines[2] != "3" {
		t.Errorf("output = %q", out.String())
	}
}

func TestStubWithExports(t *testing.T) {
	ctx, rt := newTestRuntime(t)
	exports := exportList{"tick": "incr ticks"}
	if err := exportCallbacks(rt, exports); err != nil {
		t.Fatalf("exportCallbacks: %v", err)
	}
	if err := bindLibrary(ctx, rt, options{stub: true, exports: exports}); err != nil {
		t.Fatalf("bindLibrary: %v", err)
	}

	var out bytes.Buffer
	if err := evalOnce(ctx, rt, "native call init 1; set ticks", &out); err != nil {
		t.Fatalf("evalOnce: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "1" {
		t.Errorf("ticks = %q, want 1", got)
	}
}
