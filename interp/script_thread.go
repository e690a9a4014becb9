package interp

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/execctx"
	"github.com/wippyai/script-core/thread"
)

type request struct {
	ctx    context.Context
	script string
	reply  chan reply
	done   func()
}

type reply struct {
	result Result
	err    error
}

// ScriptThread runs an interpreter on a dedicated goroutine. Every
// evaluation happens on that goroutine under the thread's own identity, so
// its execution contexts never move.
type ScriptThread struct {
	id     thread.ID
	interp *Interpreter

	requests chan request
	quit     chan struct{}
	done     chan struct{}

	busy      atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// NewScriptThread starts a script thread. queueSize bounds the number of
// asynchronous scripts waiting to run.
func NewScriptThread(queueSize int) *ScriptThread {
	if queueSize <= 0 {
		queueSize = 64
	}
	id := thread.New()
	t := &ScriptThread{
		id:       id,
		requests: make(chan request, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	ctx := thread.With(context.Background(), id)
	t.interp = New(ctx, Options{PrimaryThread: id, Owner: t})

	go t.loop(ctx)
	return t
}

func (t *ScriptThread) ThreadID() thread.ID { return t.id }

// Interpreter returns the interpreter owned by the thread.
func (t *ScriptThread) Interpreter() *Interpreter { return t.interp }

func (t *ScriptThread) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-t.quit:
			t.shutdown(ctx)
			return
		case req := <-t.requests:
			t.run(ctx, req)
		}
	}
}

func (t *ScriptThread) run(ctx context.Context, req request) {
	t.busy.Add(1)
	defer t.busy.Add(-1)

	runCtx := ctx
	if req.ctx != nil {
		// Keep the caller's deadline but run under this thread's identity.
		runCtx = thread.With(req.ctx, t.id)
	}
	res, err := t.interp.Eval(runCtx, req.script)
	if req.done != nil {
		req.done()
	}
	if n, perr := t.interp.ProcessEvents(runCtx); perr == nil && n > 0 {
		Logger().Debug("processed queued events",
			diag.PriorityScript.Field(),
			zap.Uint64("thread", uint64(t.id)),
			zap.Int("count", n))
	}

	if req.reply != nil {
		req.reply <- reply{result: res, err: err}
		return
	}
	if err != nil {
		Logger().Warn("queued script failed",
			diag.PriorityScript.Field(),
			zap.Uint64("thread", uint64(t.id)),
			zap.Int("line", res.ErrorLine),
			zap.Error(err))
	}
}

func (t *ScriptThread) shutdown(ctx context.Context) {
	for {
		select {
		case req := <-t.requests:
			if req.done != nil {
				req.done()
			}
			continue
		default:
		}
		break
	}
	t.closeErr = t.interp.Close(ctx)
	execctx.ReleaseAll(t.id)
}

func (t *ScriptThread) closed() bool {
	select {
	case <-t.quit:
		return true
	default:
		return false
	}
}

// Send evaluates script on the thread and waits for the result.
func (t *ScriptThread) Send(ctx context.Context, script string) (Result, error) {
	if t.closed() {
		err := errors.InvalidInterpreter(errors.PhaseInvoke, "script thread is closed")
		return Result{Code: Error, Value: err.Error()}, err
	}
	req := request{ctx: ctx, script: script, reply: make(chan reply, 1)}
	select {
	case t.requests <- req:
	case <-t.quit:
		err := errors.InvalidInterpreter(errors.PhaseInvoke, "script thread is closed")
		return Result{Code: Error, Value: err.Error()}, err
	case <-ctx.Done():
		return Result{Code: Error, Value: ctx.Err().Error()}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-t.done:
		err := errors.InvalidInterpreter(errors.PhaseInvoke, "script thread closed before running the script")
		return Result{Code: Error, Value: err.Error()}, err
	case <-ctx.Done():
		return Result{Code: Error, Value: ctx.Err().Error()}, ctx.Err()
	}
}

// Queue schedules script without waiting. It fails when the thread is
// closed or its queue is full.
func (t *ScriptThread) Queue(script string) error {
	return t.QueueFunc(script, nil)
}

// QueueFunc schedules script and runs done once it was evaluated or
// dropped by Close. done does not run when queueing fails.
func (t *ScriptThread) QueueFunc(script string, done func()) error {
	if t.closed() {
		return errors.Closed(errors.PhaseInvoke, "script thread")
	}
	select {
	case t.requests <- request{script: script, done: done}:
		return nil
	default:
		return errors.New(errors.PhaseInvoke, errors.KindOutOfBounds).
			Detail("script thread queue is full").Build()
	}
}

// IsBusy reports whether the thread is evaluating a script.
func (t *ScriptThread) IsBusy() bool {
	return t.busy.Load() > 0 || t.interp.IsBusy()
}

// ResetCancel resets the cancellation state of the thread's interpreter.
func (t *ScriptThread) ResetCancel(flags CancelFlags) (bool, error) {
	return t.interp.ResetCancel(flags)
}

// Close stops the thread after the running script and disposes the
// interpreter. Queued scripts that have not started are dropped after their
// done functions run.
func (t *ScriptThread) Close() error {
	t.closeOnce.Do(func() {
		close(t.quit)
	})
	<-t.done
	return t.closeErr
}
