package callback

import (
	"context"
	"reflect"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
)

// Signature is the declared foreign signature an adapter serves. Only the
// dynamic shape uses parameter types; other shapes have fixed signatures.
type Signature struct {
	Return     reflect.Type
	Params     []reflect.Type
	ParamFlags []MarshalFlags
}

func (s Signature) equal(o Signature) bool {
	return s.Return == o.Return &&
		slices.Equal(s.Params, o.Params) &&
		slices.Equal(s.ParamFlags, o.ParamFlags)
}

func (s Signature) clone() Signature {
	return Signature{
		Return:     s.Return,
		Params:     slices.Clone(s.Params),
		ParamFlags: slices.Clone(s.ParamFlags),
	}
}

func (s Signature) byRef(i int) bool {
	return i < len(s.ParamFlags) && s.ParamFlags[i]&MarshalByRef != 0
}

// Adapter is a callable bound to one callback for one shape and signature.
type Adapter struct {
	cb    *Callback
	shape Shape
	sig   Signature
	fn    any
}

func (a *Adapter) Shape() Shape { return a.shape }

func (a *Adapter) Signature() Signature { return a.sig.clone() }

func (a *Adapter) Callback() *Callback { return a.cb }

// Func returns the Go function for the shape, one of GenericFunc,
// AsyncResultFunc, EventHandlerFunc, ThreadStartFunc,
// ParameterizedThreadStartFunc or DynamicFunc.
func (a *Adapter) Func() any { return a.fn }

// Dynamic returns the dynamic function, or nil for other shapes.
func (a *Adapter) Dynamic() DynamicFunc {
	fn, _ := a.fn.(DynamicFunc)
	return fn
}

// Counters reports adapter cache activity.
type Counters struct {
	Fetched int64
	Reused  int64
	Created int64
}

func (c *Callback) Counters() Counters {
	return Counters{
		Fetched: c.fetched.Load(),
		Reused:  c.reused.Load(),
		Created: c.created.Load(),
	}
}

// GetAdapter returns the adapter for shape and signature. A cached adapter
// is reused only when its signature matches exactly; otherwise a new one is
// built and replaces it. The callback's MarshalDynamicCallback flag routes
// every shape through the dynamic adapter. When throwOnBindFailure is false
// a failure is logged and returns a nil adapter without error.
func (c *Callback) GetAdapter(shape Shape, ret reflect.Type, params []reflect.Type, paramFlags []MarshalFlags, throwOnBindFailure bool) (*Adapter, error) {
	a, err := c.getAdapter(shape, Signature{Return: ret, Params: params, ParamFlags: paramFlags})
	if err != nil {
		if throwOnBindFailure {
			return nil, err
		}
		Logger().Warn("callback adapter not bound",
			diag.PriorityCallback.Field(),
			zap.String("callback", c.name),
			zap.Stringer("shape", shape),
			zap.Error(err))
		return nil, nil
	}
	return a, nil
}

// AdapterFor resolves the shape of a Go function type with ShapeOf and
// returns its adapter.
func (c *Callback) AdapterFor(fnType reflect.Type) (*Adapter, error) {
	shape, err := ShapeOf(fnType, c.marshal)
	if err != nil {
		return nil, err
	}
	return c.getAdapter(shape, Signature{})
}

func (c *Callback) getAdapter(shape Shape, sig Signature) (*Adapter, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	if shape < 0 || shape >= numShapes {
		return nil, errors.UnsupportedShape(shape.String(), shapeNames[:])
	}
	if c.marshal&MarshalDynamicCallback != 0 {
		shape = ShapeDynamic
	}
	if shape != ShapeDynamic {
		sig = Signature{}
	}
	if len(sig.ParamFlags) > len(sig.Params) {
		return nil, errors.InvalidInput(errors.PhaseCallback, "more parameter marshal flags than parameters")
	}

	c.fetched.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur := c.adapters[shape]; cur != nil && cur.sig.equal(sig) {
		c.reused.Add(1)
		Logger().Debug("callback adapter cache hit",
			diag.PriorityCallback.Field(),
			zap.String("callback", c.name),
			zap.Stringer("shape", shape))
		return cur, nil
	}

	a := &Adapter{cb: c, shape: shape, sig: sig.clone()}
	a.fn = c.bind(a)
	c.adapters[shape] = a
	if shape == ShapeDynamic {
		c.returnType, c.paramTypes, c.paramFlags = a.sig.Return, a.sig.Params, a.sig.ParamFlags
	}
	c.created.Add(1)

	Logger().Debug("callback adapter created",
		diag.PriorityCallback.Field(),
		zap.String("callback", c.name),
		zap.Stringer("shape", shape),
		zap.Int("params", len(sig.Params)))
	return a, nil
}

// bind returns the shape's dispatch function closed over the adapter.
func (c *Callback) bind(a *Adapter) any {
	switch a.shape {
	case ShapeGeneric:
		return GenericFunc(func(ctx context.Context) error {
			_, err := c.FireGeneric(ctx)
			return err
		})
	case ShapeAsyncResult:
		return AsyncResultFunc(func(ctx context.Context, ar any) error {
			_, err := c.FireAsyncResult(ctx, ar)
			return err
		})
	case ShapeEventHandler:
		return EventHandlerFunc(func(ctx context.Context, sender, e any) error {
			_, err := c.FireEventHandler(ctx, sender, e)
			return err
		})
	case ShapeThreadStart:
		return ThreadStartFunc(func(ctx context.Context) error {
			_, err := c.FireThreadStart(ctx)
			return err
		})
	case ShapeParameterizedThreadStart:
		return ParameterizedThreadStartFunc(func(ctx context.Context, obj any) error {
			_, err := c.FireParameterizedThreadStart(ctx, obj)
			return err
		})
	}
	sig := a.sig
	return DynamicFunc(func(ctx context.Context, args []any) (any, error) {
		return c.fireDynamic(ctx, args, sig)
	})
}
