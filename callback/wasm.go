package callback

import (
	"context"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
)

// MaxFixedArity is the largest dynamic signature served with scalar
// parameters on the value stack. Wider or non-scalar signatures use the
// CBOR calling convention.
const MaxFixedArity = 8

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("callback: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// HostFunc is an adapter in the form of a wazero host function.
type HostFunc struct {
	Fn      api.GoModuleFunc
	Params  []api.ValueType
	Results []api.ValueType
}

// Exporter registers host functions that foreign modules import.
type Exporter interface {
	Export(name string, fn api.GoModuleFunc, params, results []api.ValueType) error
}

// Export registers the adapter as a host function called name.
func (a *Adapter) Export(e Exporter, name string) error {
	hf, err := a.HostFunc()
	if err != nil {
		return err
	}
	return e.Export(name, hf.Fn, hf.Params, hf.Results)
}

// DynamicReply is the CBOR result of a variable-arity dynamic call: the
// return value, the arguments after output parameters were written back,
// and an error message when the call failed without trapping.
type DynamicReply struct {
	Result any    `cbor:"1,keyasint,omitempty"`
	Args   []any  `cbor:"2,keyasint,omitempty"`
	Error  string `cbor:"3,keyasint,omitempty"`
}

// UsesCBOR reports whether the dynamic signature needs the CBOR calling
// convention: (argsPtr, argsLen, outPtr, outCap i32) -> i32.
func (s Signature) UsesCBOR() bool {
	if len(s.Params) > MaxFixedArity {
		return true
	}
	for _, p := range s.Params {
		if _, ok := scalarType(p); !ok {
			return true
		}
	}
	if s.Return != nil {
		if _, ok := scalarType(s.Return); !ok {
			return true
		}
	}
	return false
}

// HostFunc builds the wazero form of the adapter. Fixed shapes pass their
// values as i32; dynamic adapters pass scalars by value and output
// parameters as i32 pointers to 4 or 8 byte slots in linear memory.
func (a *Adapter) HostFunc() (HostFunc, error) {
	i32 := api.ValueTypeI32
	switch a.shape {
	case ShapeGeneric:
		fn := a.fn.(GenericFunc)
		return HostFunc{Fn: a.guard(func(ctx context.Context, _ api.Module, _ []uint64) error {
			return fn(ctx)
		})}, nil
	case ShapeThreadStart:
		fn := a.fn.(ThreadStartFunc)
		return HostFunc{Fn: a.guard(func(ctx context.Context, _ api.Module, _ []uint64) error {
			return fn(ctx)
		})}, nil
	case ShapeAsyncResult:
		fn := a.fn.(AsyncResultFunc)
		return HostFunc{Params: []api.ValueType{i32}, Fn: a.guard(func(ctx context.Context, _ api.Module, stack []uint64) error {
			return fn(ctx, api.DecodeI32(stack[0]))
		})}, nil
	case ShapeParameterizedThreadStart:
		fn := a.fn.(ParameterizedThreadStartFunc)
		return HostFunc{Params: []api.ValueType{i32}, Fn: a.guard(func(ctx context.Context, _ api.Module, stack []uint64) error {
			return fn(ctx, api.DecodeI32(stack[0]))
		})}, nil
	case ShapeEventHandler:
		fn := a.fn.(EventHandlerFunc)
		return HostFunc{Params: []api.ValueType{i32, i32}, Fn: a.guard(func(ctx context.Context, _ api.Module, stack []uint64) error {
			return fn(ctx, api.DecodeI32(stack[0]), api.DecodeI32(stack[1]))
		})}, nil
	case ShapeDynamic:
		if a.sig.UsesCBOR() {
			return a.cborHostFunc(), nil
		}
		return a.fixedHostFunc()
	}
	return HostFunc{}, errors.UnsupportedShape(a.shape.String(), shapeNames[:])
}

// guard turns a dispatch error into the adapter's failure policy: a trap
// when the callback throws on error, a log entry otherwise. Panics are
// recovered the same way.
func (a *Adapter) guard(fn func(ctx context.Context, mod api.Module, stack []uint64) error) api.GoModuleFunc {
	throw := a.cb.flags.Has(ThrowOnError)
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		defer func() {
			if r := recover(); r != nil {
				Logger().Error("panic in callback host function",
					diag.PriorityCallback.Field(),
					zap.String("callback", a.cb.name),
					zap.Stringer("shape", a.shape),
					zap.Any("panic", r))
				if throw {
					panic(r)
				}
				clear(stack)
			}
		}()
		if err := fn(ctx, mod, stack); err != nil {
			if throw {
				panic(err)
			}
			Logger().Error("callback host function failed",
				diag.PriorityCallback.Field(),
				zap.String("callback", a.cb.name),
				zap.Stringer("shape", a.shape),
				zap.Error(err))
			clear(stack)
		}
	}
}

func (a *Adapter) fixedHostFunc() (HostFunc, error) {
	sig := a.sig
	fn := a.fn.(DynamicFunc)

	params := make([]api.ValueType, len(sig.Params))
	for i, p := range sig.Params {
		if sig.byRef(i) {
			params[i] = api.ValueTypeI32
			continue
		}
		vt, _ := scalarType(p)
		params[i] = vt
	}
	var results []api.ValueType
	if sig.Return != nil {
		vt, _ := scalarType(sig.Return)
		results = []api.ValueType{vt}
	}

	hf := func(ctx context.Context, mod api.Module, stack []uint64) error {
		args := make([]any, len(sig.Params))
		ptrs := make([]uint32, len(sig.Params))
		for i, p := range sig.Params {
			if !sig.byRef(i) {
				args[i] = decodeScalar(stack[i], p)
				continue
			}
			ptrs[i] = api.DecodeU32(stack[i])
			raw, err := readSlot(mod.Memory(), ptrs[i], p)
			if err != nil {
				return err
			}
			args[i] = decodeScalar(raw, p)
		}

		out, err := fn(ctx, args)
		if err != nil {
			return err
		}

		for i, p := range sig.Params {
			if !sig.byRef(i) {
				continue
			}
			raw, err := encodeScalar(args[i], p)
			if err != nil {
				return err
			}
			if err := writeSlot(mod.Memory(), ptrs[i], p, raw); err != nil {
				return err
			}
		}
		if sig.Return != nil {
			raw, err := encodeScalar(out, sig.Return)
			if err != nil {
				return err
			}
			stack[0] = raw
		}
		return nil
	}
	return HostFunc{Fn: a.guard(hf), Params: params, Results: results}, nil
}

func (a *Adapter) cborHostFunc() HostFunc {
	sig := a.sig
	fn := a.fn.(DynamicFunc)
	i32 := api.ValueTypeI32

	hf := func(ctx context.Context, mod api.Module, stack []uint64) error {
		argsPtr, argsLen := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
		outPtr, outCap := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
		mem := mod.Memory()

		data, ok := mem.Read(argsPtr, argsLen)
		if !ok {
			return errors.OutOfBounds(errors.PhaseMarshal, argsPtr, argsLen)
		}
		var args []any
		if err := cbor.Unmarshal(data, &args); err != nil {
			return errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "decode dynamic arguments")
		}
		for i := range args {
			if i < len(sig.Params) {
				args[i] = coerce(args[i], sig.Params[i])
			}
		}

		var reply DynamicReply
		out, err := fn(ctx, args)
		if err != nil {
			if a.cb.flags.Has(ThrowOnError) {
				return err
			}
			reply.Error = err.Error()
		} else {
			reply.Result = out
			reply.Args = args
		}

		enc, err := cborEncMode.Marshal(reply)
		if err != nil {
			return errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "encode dynamic reply")
		}
		if uint32(len(enc)) > outCap {
			stack[0] = api.EncodeI32(-int32(len(enc)))
			return nil
		}
		if !mem.Write(outPtr, enc) {
			return errors.OutOfBounds(errors.PhaseMarshal, outPtr, uint32(len(enc)))
		}
		stack[0] = api.EncodeI32(int32(len(enc)))
		return nil
	}
	return HostFunc{
		Fn:      a.guard(hf),
		Params:  []api.ValueType{i32, i32, i32, i32},
		Results: []api.ValueType{i32},
	}
}

// scalarType maps a Go type to the core value type carrying it.
func scalarType(t reflect.Type) (api.ValueType, bool) {
	if t == nil {
		return 0, false
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return api.ValueTypeI32, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return api.ValueTypeI64, true
	case reflect.Float32:
		return api.ValueTypeF32, true
	case reflect.Float64:
		return api.ValueTypeF64, true
	}
	return 0, false
}

func slotWidth(t reflect.Type) uint32 {
	vt, _ := scalarType(t)
	if vt == api.ValueTypeI64 || vt == api.ValueTypeF64 {
		return 8
	}
	return 4
}

func readSlot(mem api.Memory, ptr uint32, t reflect.Type) (uint64, error) {
	if slotWidth(t) == 8 {
		v, ok := mem.ReadUint64Le(ptr)
		if !ok {
			return 0, errors.OutOfBounds(errors.PhaseMarshal, ptr, 8)
		}
		return v, nil
	}
	v, ok := mem.ReadUint32Le(ptr)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseMarshal, ptr, 4)
	}
	return uint64(v), nil
}

func writeSlot(mem api.Memory, ptr uint32, t reflect.Type, raw uint64) error {
	if slotWidth(t) == 8 {
		if !mem.WriteUint64Le(ptr, raw) {
			return errors.OutOfBounds(errors.PhaseMarshal, ptr, 8)
		}
		return nil
	}
	if !mem.WriteUint32Le(ptr, uint32(raw)) {
		return errors.OutOfBounds(errors.PhaseMarshal, ptr, 4)
	}
	return nil
}

// decodeScalar converts a raw stack value into a value of type t.
func decodeScalar(raw uint64, t reflect.Type) any {
	var v any
	switch t.Kind() {
	case reflect.Bool:
		v = api.DecodeI32(raw) != 0
	case reflect.Int8, reflect.Int16, reflect.Int32:
		v = int64(api.DecodeI32(raw))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		v = uint64(api.DecodeU32(raw))
	case reflect.Int, reflect.Int64:
		v = int64(raw)
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		v = raw
	case reflect.Float32:
		v = api.DecodeF32(raw)
	case reflect.Float64:
		v = api.DecodeF64(raw)
	default:
		return nil
	}
	return reflect.ValueOf(v).Convert(t).Interface()
}

// encodeScalar converts v to type t and returns its raw stack form.
func encodeScalar(v any, t reflect.Type) (uint64, error) {
	if s, ok := v.(string); ok && t.Kind() != reflect.String {
		conv, err := convertString(s, t)
		if err != nil {
			return 0, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
				Declared(t.String()).Actual("string").Cause(err).Build()
		}
		v = conv
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return 0, nil
	}
	if !rv.Type().ConvertibleTo(t) {
		return 0, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
			Declared(t.String()).Actual(rv.Type().String()).Build()
	}
	rv = rv.Convert(t)

	switch t.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return api.EncodeI32(int32(rv.Int())), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return api.EncodeU32(uint32(rv.Uint())), nil
	case reflect.Int, reflect.Int64:
		return api.EncodeI64(rv.Int()), nil
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32:
		return api.EncodeF32(float32(rv.Float())), nil
	case reflect.Float64:
		return api.EncodeF64(rv.Float()), nil
	}
	return 0, errors.Unsupported(errors.PhaseMarshal, t.String())
}

// coerce converts a decoded CBOR value to the declared parameter type when
// a lossless conversion exists, and returns it unchanged otherwise.
func coerce(v any, t reflect.Type) any {
	if v == nil || t == nil {
		return v
	}
	if s, ok := v.(string); ok {
		if t.Kind() == reflect.String {
			return reflect.ValueOf(s).Convert(t).Interface()
		}
		if conv, err := convertString(s, t); err == nil {
			return conv
		}
		return v
	}
	rv := reflect.ValueOf(v)
	if _, ok := scalarType(t); ok && rv.Type().ConvertibleTo(t) {
		if _, scalar := scalarType(rv.Type()); scalar {
			return rv.Convert(t).Interface()
		}
	}
	return v
}
