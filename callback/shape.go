package callback

import (
	"context"
	"reflect"

	"github.com/wippyai/script-core/errors"
)

// Shape is a foreign call signature family a callback can be adapted to.
type Shape int

const (
	// ShapeGeneric takes no arguments and returns nothing.
	ShapeGeneric Shape = iota
	// ShapeAsyncResult takes one completion value.
	ShapeAsyncResult
	// ShapeEventHandler takes a sender and an event value.
	ShapeEventHandler
	// ShapeThreadStart is a thread entry point without arguments.
	ShapeThreadStart
	// ShapeParameterizedThreadStart is a thread entry point with one value.
	ShapeParameterizedThreadStart
	// ShapeDynamic takes any number of typed arguments and returns a value.
	ShapeDynamic

	numShapes
)

var shapeNames = [numShapes]string{
	ShapeGeneric:                  "generic",
	ShapeAsyncResult:              "async-result",
	ShapeEventHandler:             "event-handler",
	ShapeThreadStart:              "thread-start",
	ShapeParameterizedThreadStart: "parameterized-thread-start",
	ShapeDynamic:                  "dynamic",
}

func (s Shape) String() string {
	if s >= 0 && s < numShapes {
		return shapeNames[s]
	}
	return "unknown"
}

// IsThreadEntry reports whether the shape is a thread entry point.
func (s Shape) IsThreadEntry() bool {
	return s == ShapeThreadStart || s == ShapeParameterizedThreadStart
}

// ParseShape resolves a shape by name.
func ParseShape(name string) (Shape, error) {
	for i, n := range shapeNames {
		if n == name {
			return Shape(i), nil
		}
	}
	return 0, errors.UnsupportedShape(name, shapeNames[:])
}

// Go function types produced by adapters, one per shape.
type (
	GenericFunc                  func(ctx context.Context) error
	AsyncResultFunc              func(ctx context.Context, ar any) error
	EventHandlerFunc             func(ctx context.Context, sender, e any) error
	ThreadStartFunc              func(ctx context.Context) error
	ParameterizedThreadStartFunc func(ctx context.Context, obj any) error
	DynamicFunc                  func(ctx context.Context, args []any) (any, error)
)

var (
	ctxType   = reflect.TypeFor[context.Context]()
	errType   = reflect.TypeFor[error]()
	anyType   = reflect.TypeFor[any]()
	anysType  = reflect.TypeFor[[]any]()
	namedFunc = map[reflect.Type]Shape{
		reflect.TypeFor[GenericFunc]():                  ShapeGeneric,
		reflect.TypeFor[AsyncResultFunc]():              ShapeAsyncResult,
		reflect.TypeFor[EventHandlerFunc]():             ShapeEventHandler,
		reflect.TypeFor[ThreadStartFunc]():              ShapeThreadStart,
		reflect.TypeFor[ParameterizedThreadStartFunc](): ShapeParameterizedThreadStart,
		reflect.TypeFor[DynamicFunc]():                  ShapeDynamic,
	}
)

// ShapeOf determines the shape a Go function type needs. The named
// function types of this package map directly; other function types are
// matched by signature. func(context.Context) error is ambiguous between
// the generic and thread-start shapes and resolves to generic unless
// MarshalNoGenericCallback is set. MarshalDynamicCallback forces the
// dynamic shape for any function type.
func ShapeOf(t reflect.Type, flags MarshalFlags) (Shape, error) {
	if t == nil || t.Kind() != reflect.Func {
		return 0, errors.UnsupportedShape(typeString(t), shapeNames[:])
	}
	if flags&MarshalDynamicCallback != 0 {
		return ShapeDynamic, nil
	}
	if s, ok := namedFunc[t]; ok {
		return s, nil
	}

	in := t.NumIn()
	if in == 0 || t.In(0) != ctxType {
		return 0, errors.UnsupportedShape(t.String(), shapeNames[:])
	}
	if t.NumOut() == 2 && in == 2 && t.In(1) == anysType && t.Out(0) == anyType && t.Out(1) == errType {
		return ShapeDynamic, nil
	}
	if t.NumOut() != 1 || t.Out(0) != errType {
		return 0, errors.UnsupportedShape(t.String(), shapeNames[:])
	}
	for i := 1; i < in; i++ {
		if t.In(i) != anyType {
			return 0, errors.UnsupportedShape(t.String(), shapeNames[:])
		}
	}

	switch in {
	case 1:
		if flags&MarshalNoGenericCallback != 0 {
			return ShapeThreadStart, nil
		}
		return ShapeGeneric, nil
	case 2:
		return ShapeParameterizedThreadStart, nil
	case 3:
		return ShapeEventHandler, nil
	}
	return 0, errors.UnsupportedShape(t.String(), shapeNames[:])
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
