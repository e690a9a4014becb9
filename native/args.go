package native

import (
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/script-core/errors"
)

// EncodeArgs converts textual arguments to the core values of the
// function's parameters. String parameters need linear memory and are not
// supported.
func (s *Symbol) EncodeArgs(args []string) ([]uint64, error) {
	if len(args) != len(s.Params) {
		return nil, errors.InvalidInput(errors.PhaseMarshal,
			"wrong # args: "+s.Name+" takes "+strconv.Itoa(len(s.Params)))
	}
	out := make([]uint64, 0, len(args))
	for i, t := range s.Params {
		v, err := encodeArg(args[i], t)
		if err != nil {
			return nil, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
				Path(s.Name, strconv.Itoa(i)).
				Actual(args[i]).
				Cause(err).
				Detail("cannot convert argument").Build()
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeArg(value string, t wit.Type) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return 1, nil
		case "0", "false", "no", "off":
			return 0, nil
		}
		return 0, errors.InvalidInput(errors.PhaseMarshal, "expected boolean but got "+strconv.Quote(value))
	case wit.U8, wit.U16, wit.U32:
		v, err := strconv.ParseUint(value, 0, 32)
		return v, err
	case wit.S8, wit.S16, wit.S32:
		v, err := strconv.ParseInt(value, 0, 32)
		return uint64(uint32(int32(v))), err
	case wit.U64:
		return strconv.ParseUint(value, 0, 64)
	case wit.S64:
		v, err := strconv.ParseInt(value, 0, 64)
		return uint64(v), err
	}
	return 0, errors.Unsupported(errors.PhaseMarshal, "argument type "+typeName(t))
}

// DecodeResults formats raw results for display.
func (s *Symbol) DecodeResults(raw []uint64) string {
	if len(s.Results) == 0 || len(raw) == 0 {
		return ""
	}
	switch s.Results[0].(type) {
	case wit.S8, wit.S16, wit.S32:
		return strconv.FormatInt(int64(int32(uint32(raw[0]))), 10)
	case wit.S64:
		return strconv.FormatInt(int64(raw[0]), 10)
	case wit.Bool:
		return strconv.FormatBool(raw[0] != 0)
	}
	return strconv.FormatUint(raw[0], 10)
}

// ParamTypes returns the WIT names of the parameter types.
func (s *Symbol) ParamTypes() []string {
	out := make([]string, len(s.Params))
	for i, t := range s.Params {
		out[i] = typeName(t)
	}
	return out
}

// ResultTypes returns the WIT names of the result types.
func (s *Symbol) ResultTypes() []string {
	out := make([]string, len(s.Results))
	for i, t := range s.Results {
		out[i] = typeName(t)
	}
	return out
}

// Callable reports whether EncodeArgs can serve every parameter.
func (s *Symbol) Callable() bool {
	for _, t := range s.Params {
		if _, ok := t.(wit.String); ok {
			return false
		}
	}
	return true
}

func typeName(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	}
	return "unknown"
}
