// Package scriptcore is the execution core that lets a host application
// drive an embedded script interpreter shipped as a foreign WebAssembly
// library.
//
// # Architecture Overview
//
//	scriptcore/
//	├── runtime/    Facade: configuration, logging, Runtime and shell commands
//	├── native/     Binding layer: symbol table, library registry, exit handler
//	├── execctx/    Per-thread execution contexts of each interpreter
//	├── callback/   Script callbacks and the adapters exported to libraries
//	├── interp/     Interpreter, commands, objects and script threads
//	├── engine/     wazero host: host module, loading, memory access
//	├── resource/   Handle tables for opaque objects and exit tokens
//	├── errors/     Structured errors with phase and kind
//	├── thread/     Thread identities pinned on a context
//	├── list/       Script list quoting and word parsing
//	├── diag/       Diagnostic priorities for log fields
//	└── cmd/scriptsh  Interactive shell
//
// # Quick Start
//
//	ctx := thread.With(context.Background(), thread.New())
//	rt, err := runtime.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	if _, err := rt.Load(ctx, "interp.wasm"); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := rt.Eval(ctx, "native create")
//
// # Threading
//
// Interpreters and foreign handles belong to the thread that created them.
// Every operation takes a context.Context whose pinned thread.ID decides
// which execution contexts are used; use thread.With once per logical
// thread and pass that context along.
package scriptcore
