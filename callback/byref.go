package callback

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
)

var byRefSeq atomic.Uint64

// byRef tracks one output parameter of a dynamic call.
type byRef struct {
	index    int
	name     string
	variable string
	typ      reflect.Type
}

// prepareByRef assigns a unique temporary variable to every output
// parameter. The script receives the variable name in place of the value.
func (c *Callback) prepareByRef(args []any, sig Signature) []byRef {
	var refs []byRef
	for i := range args {
		if !sig.byRef(i) {
			continue
		}
		var typ reflect.Type
		if i < len(sig.Params) {
			typ = sig.Params[i]
		}
		refs = append(refs, byRef{
			index:    i,
			name:     c.paramName(i),
			variable: fmt.Sprintf("byref_%d_%d", byRefSeq.Add(1), i),
			typ:      typ,
		})
	}
	return refs
}

// fixupByRef reads every output variable back, unsets it and stores the
// converted value in args. A variable naming an object yields the object's
// value; variables hold no references, so the object table is left alone.
// With strict set a type mismatch fails and leaves the slot untouched.
func (c *Callback) fixupByRef(ctx context.Context, refs []byRef, args []any, strict bool) error {
	in := c.interp
	for n, r := range refs {
		if r.index < 0 || r.index >= len(args) {
			c.discardByRef(ctx, refs[n:])
			return errors.OutOfBounds(errors.PhaseMarshal, uint32(r.index), uint32(len(args)))
		}

		raw, err := in.GetVar(ctx, r.variable)
		if err != nil {
			c.discardByRef(ctx, refs[n:])
			return errors.Wrap(errors.PhaseMarshal, errors.KindNotFound, err,
				fmt.Sprintf("output parameter %s", r.name))
		}

		var value any = raw
		if obj, ok := in.GetObject(raw); ok {
			value = obj
		}
		if _, err := in.UnsetVar(ctx, r.variable); err != nil {
			Logger().Warn("unset of output variable failed",
				diag.PriorityMarshal.Field(),
				zap.String("variable", r.variable),
				zap.Error(err))
		}

		if r.typ == nil {
			args[r.index] = value
			continue
		}

		actual := reflect.TypeOf(value)
		if strict {
			if !typeMatches(r.typ, actual) {
				c.discardByRef(ctx, refs[n+1:])
				return errors.ByRefTypeMismatch(r.index, r.name, r.typ.String(), typeString(actual))
			}
			args[r.index] = value
			continue
		}

		if s, ok := value.(string); ok && r.typ.Kind() != reflect.String {
			if conv, err := convertString(s, r.typ); err == nil {
				args[r.index] = conv
				continue
			}
		}
		args[r.index] = value
	}
	return nil
}

// discardByRef unsets the temporary variables of refs.
func (c *Callback) discardByRef(ctx context.Context, refs []byRef) {
	for _, r := range refs {
		c.interp.UnsetVar(ctx, r.variable)
	}
}

func typeMatches(declared, actual reflect.Type) bool {
	if actual == nil {
		return declared.Kind() == reflect.Interface
	}
	if declared == actual {
		return true
	}
	if declared.Kind() == reflect.Interface {
		return actual.Implements(declared)
	}
	return false
}

// convertString parses s into a value of type t.
func convertString(s string, t reflect.Type) (any, error) {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Interface:
		if !reflect.TypeOf(s).AssignableTo(t) {
			return nil, fmt.Errorf("string does not implement %s", t)
		}
		v.Set(reflect.ValueOf(s))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 0, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := strconv.ParseUint(s, 0, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetFloat(f)
	default:
		return nil, fmt.Errorf("cannot convert string to %s", t)
	}
	return v.Interface(), nil
}
