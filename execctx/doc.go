// Package execctx manages per-thread, per-interpreter execution state.
//
// Four context variants exist: engine, interactive, test and variable. Each
// (thread, interpreter) pair holds at most one live context of each variant.
// Contexts are created lazily by a Manager, kept in a process-wide registry
// keyed by thread, and released explicitly, by Purge during interpreter
// teardown, or by ReleaseAll when a thread exits.
//
// The thread is read from the context.Context passed to each call:
//
//	ctx = thread.With(ctx, thread.New())
//	vars, err := mgr.Variables(ctx, true)
//
// The variable context is special: every thread gets its own CallStack, but
// the bottom of every stack is the same global Frame, created once per
// interpreter under the interpreter's lock.
package execctx
