package callback

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/thread"
)

// FireGeneric invokes the callback with no foreign arguments.
func (c *Callback) FireGeneric(ctx context.Context) (interp.Result, error) {
	return c.fire(ctx, ShapeGeneric, nil, nil)
}

// FireAsyncResult invokes the callback with a completion value.
func (c *Callback) FireAsyncResult(ctx context.Context, ar any) (interp.Result, error) {
	return c.fire(ctx, ShapeAsyncResult, []string{"ar"}, []any{ar})
}

// FireEventHandler invokes the callback with an event sender and value.
func (c *Callback) FireEventHandler(ctx context.Context, sender, e any) (interp.Result, error) {
	return c.fire(ctx, ShapeEventHandler, []string{"sender", "e"}, []any{sender, e})
}

// FireThreadStart runs the callback as a thread body. The calling thread's
// contexts are released afterwards.
func (c *Callback) FireThreadStart(ctx context.Context) (interp.Result, error) {
	return c.fire(ctx, ShapeThreadStart, nil, nil)
}

// FireParameterizedThreadStart runs the callback as a thread body with one
// value.
func (c *Callback) FireParameterizedThreadStart(ctx context.Context, obj any) (interp.Result, error) {
	return c.fire(ctx, ShapeParameterizedThreadStart, []string{"obj"}, []any{obj})
}

func (c *Callback) fire(ctx context.Context, shape Shape, names []string, values []any) (res interp.Result, err error) {
	defer c.finish(ctx, shape, &err)

	var created []string
	release := func() { c.releaseObjects(created) }
	defer func() {
		if !res.Queued {
			release()
		}
	}()

	if err = c.checkDisposed(); err != nil {
		return errorResult(err), err
	}
	if err = c.interp.Check(errors.PhaseInvoke); err != nil {
		return errorResult(err), err
	}

	var args []string
	if c.flags.Has(Arguments) {
		for i, v := range values {
			s, merr := c.marshalArg(v, &created)
			if merr != nil {
				err = merr
				return errorResult(err), err
			}
			args = c.appendArg(args, names[i], s)
		}
	}

	res, err = c.invoke(ctx, args, c.flags.invokeOptions(), release)
	return res, err
}

// releaseObjects drops the invocation's reference on the objects created
// for its arguments. Objects the script took a reference to survive.
func (c *Callback) releaseObjects(names []string) {
	if len(names) == 0 {
		return
	}
	dropped := 0
	for _, name := range names {
		if c.interp.ReleaseObject(name) {
			dropped++
		}
	}
	Logger().Debug("argument objects released",
		diag.PriorityCleanup.Field(),
		zap.String("callback", c.name),
		zap.Int("objects", len(names)),
		zap.Int("dropped", dropped))
}

// finish applies the failure policy and the post-invocation lifecycle
// flags. Only script failures are subject to ThrowOnError; every other
// error is returned as is.
func (c *Callback) finish(ctx context.Context, shape Shape, errp *error) {
	if err := *errp; err != nil {
		if c.flags.Has(Complain) {
			Logger().Warn("callback failed",
				diag.PriorityScript.Field(),
				zap.String("callback", c.name),
				zap.Stringer("shape", shape),
				zap.Error(err))
		}
		if errors.Is(err, errors.ErrScriptFailure) && !c.flags.Has(ThrowOnError) {
			*errp = nil
		}
	}

	if c.flags.Has(FireAndForget) {
		if !c.Remove() && c.flags.Has(Complain) {
			Logger().Warn("fire-and-forget callback was already removed",
				diag.PriorityCallback.Field(),
				zap.String("callback", c.name))
		}
	}

	if c.flags.Has(DisposeThread) || shape.IsThreadEntry() {
		c.disposeThread(ctx)
	}
}

// disposeThread releases the calling thread's contexts unless it is the
// interpreter's primary thread or is still evaluating.
func (c *Callback) disposeThread(ctx context.Context) {
	in := c.interp
	if thread.Current(ctx) == in.PrimaryThread() {
		return
	}
	mgr := in.Contexts()
	if ec, _ := mgr.Engine(ctx, false); ec != nil && ec.Levels > 0 {
		return
	}
	n := mgr.ReleaseThread(ctx)
	Logger().Debug("callback thread disposed",
		diag.PriorityCleanup.Field(),
		zap.String("callback", c.name),
		zap.Int("contexts", n))
}

func (c *Callback) appendArg(args []string, name, value string) []string {
	if c.flags.Has(UseParameterNames) && name != "" {
		args = append(args, name)
	}
	return append(args, value)
}

func (c *Callback) paramName(i int) string {
	if i < len(c.parameterNames) {
		return c.parameterNames[i]
	}
	return strconv.Itoa(i)
}

// marshalArg converts a foreign value to its script form. Primitive values
// are inlined; other values become opaque objects when CreateObject is set and
// ToString is not. Created object names are appended to created.
func (c *Callback) marshalArg(v any, created *[]string) (string, error) {
	if s, ok := primitiveString(v); ok {
		return s, nil
	}
	if c.flags.Has(CreateObject) && !c.flags.Has(ToString) {
		name, err := c.interp.AddObject(v)
		if err != nil {
			return "", err
		}
		*created = append(*created, name)
		return name, nil
	}
	return fmt.Sprint(v), nil
}

func primitiveString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case []byte:
		return string(x), true
	case bool:
		return strconv.FormatBool(x), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		return fmt.Sprint(x), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case fmt.Stringer:
		return "", false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	}
	return "", false
}

// FireDynamic invokes the callback with the arguments of a dynamic call,
// using the signature of the last dynamic adapter. Output parameters are
// written back into args.
func (c *Callback) FireDynamic(ctx context.Context, args []any) (any, error) {
	ret, params, flags := c.signature()
	return c.fireDynamic(ctx, args, Signature{Return: ret, Params: params, ParamFlags: flags})
}

func (c *Callback) fireDynamic(ctx context.Context, args []any, sig Signature) (out any, err error) {
	defer c.finish(ctx, ShapeDynamic, &err)

	var res interp.Result
	var created []string
	release := func() { c.releaseObjects(created) }
	defer func() {
		if !res.Queued {
			release()
		}
	}()

	if err = c.checkDisposed(); err != nil {
		return nil, err
	}
	in := c.interp
	if err = in.Check(errors.PhaseInvoke); err != nil {
		return nil, err
	}

	var refs []byRef
	var scriptArgs []string
	if c.flags.Has(Arguments) && len(args) > 0 {
		refs = c.prepareByRef(args, sig)
		byIndex := make(map[int]*byRef, len(refs))
		for i := range refs {
			byIndex[refs[i].index] = &refs[i]
		}
		for i, v := range args {
			s, merr := c.marshalArg(v, &created)
			if merr != nil {
				err = merr
				return nil, err
			}
			if r, ok := byIndex[i]; ok {
				if err = in.SetVar(ctx, r.variable, s); err != nil {
					return nil, err
				}
				s = r.variable
			}
			scriptArgs = c.appendArg(scriptArgs, c.paramName(i), s)
		}
	}

	res, err = c.invoke(ctx, scriptArgs, c.flags.invokeOptions(), release)
	if err != nil {
		c.discardByRef(ctx, refs)
		return nil, err
	}

	if len(refs) > 0 {
		if err = c.fixupByRef(ctx, refs, args, c.flags.Has(ByRefStrict)); err != nil {
			return nil, err
		}
	}
	return c.returnValue(res, sig.Return)
}

// returnValue converts a successful result to the declared return type.
func (c *Callback) returnValue(res interp.Result, ret reflect.Type) (any, error) {
	if c.flags.Has(ReturnValue) {
		if c.flags.Has(DefaultValue) {
			if ret == nil {
				return nil, nil
			}
			return reflect.Zero(ret).Interface(), nil
		}
		if obj, ok := c.interp.GetObject(res.Value); ok {
			if c.flags.Has(AddReference) {
				c.interp.AddRef(res.Value)
			}
			if c.flags.Has(RemoveReference) {
				c.interp.ReleaseObject(res.Value)
			}
			return obj, nil
		}
	}
	if ret == nil {
		return res.Value, nil
	}
	v, err := convertString(res.Value, ret)
	if err != nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			Declared(ret.String()).Actual("string").
			Detail("return value %q", res.Value).Cause(err).Build()
	}
	return v, nil
}
