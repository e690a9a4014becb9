package callback

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/list"
)

// InvokeOptions control how a script is dispatched.
type InvokeOptions struct {
	UseOwner           bool
	ResetCancel        bool
	MustResetCancel    bool
	Asynchronous       bool
	AsynchronousIfBusy bool
}

func (f Flags) invokeOptions() InvokeOptions {
	return InvokeOptions{
		UseOwner:           f.Has(UseOwner),
		ResetCancel:        f.Has(ResetCancel),
		MustResetCancel:    f.Has(MustResetCancel),
		Asynchronous:       f.Has(Asynchronous),
		AsynchronousIfBusy: f.Has(AsynchronousIfBusy),
	}
}

func (o InvokeOptions) cancelFlags() interp.CancelFlags {
	if o.MustResetCancel {
		return interp.CancelGlobal | interp.CancelIgnorePending
	}
	return 0
}

// Invoke evaluates the bound arguments followed by args using the
// callback's configured options.
func (c *Callback) Invoke(ctx context.Context, args []string) (interp.Result, error) {
	return c.InvokeWith(ctx, args, c.flags.invokeOptions())
}

// InvokeWith evaluates the bound arguments followed by args as one list.
// Queued evaluations return an empty result with Queued set.
func (c *Callback) InvokeWith(ctx context.Context, args []string, opts InvokeOptions) (interp.Result, error) {
	return c.invoke(ctx, args, opts, nil)
}

// invoke hands done to the queue when the script is scheduled; the caller
// owns cleanup for every result without Queued.
func (c *Callback) invoke(ctx context.Context, args []string, opts InvokeOptions, done func()) (interp.Result, error) {
	if err := c.checkDisposed(); err != nil {
		return errorResult(err), err
	}
	script := list.Join(append(c.Arguments(), args...))

	in := c.interp
	if err := in.Check(errors.PhaseInvoke); err != nil {
		return errorResult(err), err
	}

	if !opts.UseOwner {
		return invokeInterpreter(ctx, in, script, opts, done)
	}
	switch owner := in.Owner().(type) {
	case *interp.ScriptThread:
		return invokeScriptThread(ctx, owner, script, opts, done)
	case *interp.Interpreter:
		return invokeInterpreter(ctx, owner, script, opts, done)
	default:
		err := errors.UnsupportedOwner(owner)
		return errorResult(err), err
	}
}

func errorResult(err error) interp.Result {
	return interp.Result{Code: interp.Error, Value: err.Error()}
}

func resetCancel(reset func(interp.CancelFlags) (bool, error), opts InvokeOptions) error {
	if !opts.ResetCancel && !opts.MustResetCancel {
		return nil
	}
	ok, err := reset(opts.cancelFlags())
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.PhaseInvoke, errors.KindScriptFailure).
			Detail("script cancellation could not be reset").Build()
	}
	return nil
}

func invokeInterpreter(ctx context.Context, in *interp.Interpreter, script string, opts InvokeOptions, done func()) (interp.Result, error) {
	if err := in.Check(errors.PhaseInvoke); err != nil {
		return errorResult(err), err
	}
	if err := resetCancel(in.ResetCancel, opts); err != nil {
		return errorResult(err), err
	}

	if opts.Asynchronous || (opts.AsynchronousIfBusy && in.IsBusy()) {
		if err := in.QueueScriptFunc(script, done); err != nil {
			qerr := errors.QueueFailure(err)
			return errorResult(qerr), qerr
		}
		logQueued(script)
		return interp.Result{Code: interp.OK, Queued: true}, nil
	}
	return in.Eval(ctx, script)
}

// invokeScriptThread never reports an error line; the thread evaluates on
// its own goroutine.
func invokeScriptThread(ctx context.Context, st *interp.ScriptThread, script string, opts InvokeOptions, done func()) (interp.Result, error) {
	if err := st.Interpreter().Check(errors.PhaseInvoke); err != nil {
		return errorResult(err), err
	}
	if err := resetCancel(st.ResetCancel, opts); err != nil {
		return errorResult(err), err
	}

	if opts.Asynchronous || (opts.AsynchronousIfBusy && st.IsBusy()) {
		if err := st.QueueFunc(script, done); err != nil {
			qerr := errors.QueueFailure(err)
			return errorResult(qerr), qerr
		}
		logQueued(script)
		return interp.Result{Code: interp.OK, Queued: true}, nil
	}
	res, err := st.Send(ctx, script)
	res.ErrorLine = 0
	return res, err
}

func logQueued(script string) {
	Logger().Debug("callback script queued",
		diag.PriorityCallback.Field(),
		zap.String("script", script))
}
