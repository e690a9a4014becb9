// Package callback lets foreign code call into an interpreter.
//
// A Callback binds a script command prefix to an interpreter under a unique
// name. Adapters expose it in one of a fixed set of shapes (generic, async
// result, event handler, thread start, parameterized thread start and
// dynamic). Adapters are cached per shape and rebuilt only when the declared
// signature changes.
//
// Invocation marshals foreign arguments into script words, optionally
// delegates to the interpreter's owner, and applies the callback's flags:
// asynchronous queuing, cancellation reset, fire-and-forget removal and
// thread disposal. Output parameters of dynamic calls travel through
// temporary script variables and are written back after the script returns.
//
// HostFunc turns an adapter into a wazero host function so WebAssembly
// modules can import it.
package callback
