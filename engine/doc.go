// Package engine hosts foreign interpreter libraries compiled to
// WebAssembly.
//
// An Engine wraps one wazero runtime and one host module. Host functions
// are added with Export and become visible to libraries under the host
// module name (DefaultHostModule unless configured). The host module is
// instantiated when the first library is instantiated; exporting after
// that fails with KindClosed.
//
// # Loading
//
//	eng := engine.New(ctx, &engine.Config{SearchPaths: []string{"lib"}})
//	defer eng.Close(ctx)
//
//	mod, err := eng.LoadFile(ctx, "interp.wasm")
//	inst, err := mod.Instantiate(ctx)
//	res, err := inst.Call(ctx, "create_interp")
//
// Each instantiation gets a unique module name (name#seq) so the same
// library can be instantiated more than once. Modules exporting
// _initialize have it called before Instantiate returns.
//
// # Memory
//
// Instance.Memory returns a bounds-checked view of the exported linear
// memory with little-endian accessors and ReadCString for NUL-terminated
// names. Instance.Global reads exported globals, which is how address
// tables are located.
package engine
