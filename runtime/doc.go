// Package runtime assembles the execution core into one embeddable unit.
//
// # Quick Start
//
//	ctx := thread.With(context.Background(), thread.New())
//	cfg, err := runtime.FindAndLoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt, err := runtime.New(ctx, cfg) // nil cfg means DefaultConfig
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Callbacks are exported into the host module before the library loads.
//	cb, _ := rt.Callback("", []string{"incr", "ready"}, 0)
//	rt.ExportFunc("on_ready", cb, callback.GenericFunc(nil))
//
//	if _, err := rt.Load(ctx, ""); err != nil { // configured library
//	    log.Fatal(err)
//	}
//	res, err := rt.Eval(ctx, "native create")
//
// # Configuration
//
// scriptcore.toml is looked up from the working directory upwards:
//
//	[library]
//	path = "lib/interp.wasm"
//	search-paths = ["lib"]
//	table-symbol = "script_stubs"   # address table global, empty for lookup by name
//	no-unload = false
//	exit-handler = true
//
//	[engine]
//	host-module = "scriptcore"
//	memory-limit-pages = 0
//	wasi = false
//
//	[script]
//	callback-flags = ["default"]
//	pause-interval = "50ms"
//	queue-size = 64
//
//	[log]
//	level = "info"
//
// # Commands
//
// Besides the interpreter built-ins the runtime registers callbacks,
// contexts, exports and native (call, create, delete, interps, status).
package runtime
