package native

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/resource"
	"github.com/wippyai/script-core/thread"
)

const exitTokenType resource.TypeID = 1

// OnExit sets the hook run when the foreign runtime shuts down. The hook
// runs only on the thread that owns the bindings; its error is logged.
func (b *Bindings) OnExit(fn func(ctx context.Context, b *Bindings) error) {
	b.mu.Lock()
	b.onExit = fn
	b.mu.Unlock()
}

// ExitToken returns the pinned exit token, or 0 when no handler is set.
func (b *Bindings) ExitToken() resource.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// SetExitHandler pins b behind a token and registers it with the library
// so the exit callback can find it.
func (b *Bindings) SetExitHandler(ctx context.Context) error {
	b.mu.Lock()
	switch {
	case b.disposed:
		b.mu.Unlock()
		return errors.Closed(errors.PhaseExit, "bindings for "+b.lib.path)
	case b.token != 0:
		b.mu.Unlock()
		return errors.InvalidInput(errors.PhaseExit, "exit handler already set")
	}
	token := b.registry.tokens.Insert(exitTokenType, b)
	if token == 0 {
		b.mu.Unlock()
		return errors.Closed(errors.PhaseExit, "exit token table")
	}
	b.token = token
	b.mu.Unlock()

	if _, err := b.Call(ctx, CreateExitHandler, uint64(token)); err != nil {
		b.freeToken(token)
		return errors.Wrap(errors.PhaseExit, errors.KindBindFailure, err, "create exit handler")
	}
	Logger().Debug("exit handler set",
		diag.PriorityNative.Field(),
		zap.String("library", b.lib.path),
		zap.Uint32("token", uint32(token)))
	return nil
}

// ClearExitHandler frees the token without telling the library. It
// reports whether a token was freed.
func (b *Bindings) ClearExitHandler() bool {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	if token == 0 {
		return false
	}
	return b.freeToken(token)
}

// UnsetExitHandler unregisters the handler from the library and then
// frees the token. The token is kept when the library call fails.
func (b *Bindings) UnsetExitHandler(ctx context.Context) error {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	if token == 0 {
		return nil
	}
	if _, err := b.Call(ctx, DeleteExitHandler, uint64(token)); err != nil {
		return errors.Wrap(errors.PhaseExit, errors.KindBindFailure, err, "delete exit handler")
	}
	b.freeToken(token)
	return nil
}

// freeToken removes token if it still refers to b. Only one caller wins.
func (b *Bindings) freeToken(token resource.Handle) bool {
	if !b.registry.tokens.RemoveIf(token, b) {
		return false
	}
	b.mu.Lock()
	if b.token == token {
		b.token = 0
	}
	b.mu.Unlock()
	return true
}

// exitProc runs when a library's foreign runtime shuts down.
func (r *Registry) exitProc(ctx context.Context, _ api.Module, stack []uint64) {
	token := resource.Handle(uint32(stack[0]))
	defer func() {
		if p := recover(); p != nil {
			Logger().Error("exit callback panicked",
				diag.PriorityNative.Field(),
				zap.Uint32("token", uint32(token)),
				zap.String("panic", fmt.Sprint(p)))
		}
	}()

	v, ok := r.tokens.GetTyped(token, exitTokenType)
	if !ok {
		Logger().Warn("exit callback with stale token",
			diag.PriorityNative.Field(),
			zap.Uint32("token", uint32(token)))
		return
	}
	b := v.(*Bindings)

	cur := thread.Current(ctx)
	b.mu.Lock()
	hook := b.onExit
	b.mu.Unlock()
	if cur == b.owner {
		if hook != nil {
			if err := hook(ctx, b); err != nil {
				Logger().Warn("exit teardown failed",
					diag.PriorityNative.Field(),
					zap.String("library", b.lib.path),
					zap.Error(err))
			}
		}
	} else {
		Logger().Warn("exit callback on foreign thread, teardown skipped",
			diag.PriorityThread.Field(),
			zap.Uint64("current", uint64(cur)),
			zap.Uint64("owner", uint64(b.owner)))
	}

	if !b.freeToken(token) {
		return
	}
	if err := b.releaseLib(ctx, true); err != nil {
		Logger().Error("release library after exit failed",
			diag.PriorityNative.Field(),
			zap.String("library", b.lib.path),
			zap.Error(err))
	}
}
