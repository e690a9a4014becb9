// Package thread provides execution identities for code that must be
// thread-affine.
//
// Script interpreters and foreign runtimes bind state to the thread that
// created it. Goroutines have no stable OS thread, so an identity is either
// pinned on a context.Context (With) or derived from the running goroutine.
package thread

import (
	"context"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ID identifies a thread of execution. The zero ID is never assigned.
type ID uint64

type ctxKey struct{}

// synthetic IDs live in the upper half so they never collide with goroutine ids.
const syntheticBase = ID(1) << 62

var nextID atomic.Uint64

// New allocates a fresh identity that no goroutine will ever report.
func New() ID {
	return syntheticBase + ID(nextID.Add(1))
}

// With returns a context carrying id as the current thread.
func With(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Current returns the thread identity pinned on ctx, falling back to the
// identity of the calling goroutine.
func Current(ctx context.Context) ID {
	if ctx != nil {
		if id, ok := ctx.Value(ctxKey{}).(ID); ok && id != 0 {
			return id
		}
	}
	return Goroutine()
}

// Pinned reports whether ctx carries an explicit identity.
func Pinned(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	id, ok := ctx.Value(ctxKey{}).(ID)
	return ok && id != 0
}

// Goroutine returns the identity of the calling goroutine.
func Goroutine() ID {
	return ID(goid.Get())
}

// Ensure returns ctx unchanged if it already carries an identity, otherwise
// a derived context pinned to the calling goroutine. Helpers that hop
// goroutines use it so work keeps the caller's identity.
func Ensure(ctx context.Context) context.Context {
	if Pinned(ctx) {
		return ctx
	}
	return With(ctx, Goroutine())
}
