package native

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/script-core/errors"
)

// Func identifies a logical foreign function. The order matches the entry
// order of the address table.
type Func int

const (
	GetVersion Func = iota
	FindExecutable
	CreateInterpFunc
	Preserve
	Release
	ObjGetVar2
	ObjSetVar2
	UnsetVar2
	Init
	InitMemory
	MakeSafe
	GetObjType
	AppendAllObjTypes
	ConvertToType
	CreateObjCommand
	DeleteCommandFromToken
	DeleteInterpFunc
	InterpDeleted
	InterpActive
	GetErrorLine
	SetErrorLine
	NewObj
	NewUnicodeObj
	NewStringObj
	NewByteArrayObj
	DbIncrRefCount
	DbDecrRefCount
	CommandComplete
	AllowExceptions
	EvalObjEx
	EvalFile
	RecordAndEvalObj
	ExprObj
	SubstObj
	CancelEval
	Canceled
	ResetCancellation
	SetInterpCancelFlags
	DoOneEvent
	ResetResult
	GetObjResult
	SetObjResult
	GetUnicodeFromObj
	GetStringFromObj
	CreateExitHandler
	DeleteExitHandler
	FinalizeThread
	Finalize

	NumFuncs
)

// MinTableSize is the smallest address table accepted: a u32 size field
// followed by one u32 entry per function.
const MinTableSize = 4 + uint32(NumFuncs)*4

// apiWIT declares every foreign function in table order. Functions marked
// optional may be absent from a library.
const apiWIT = `
get_version: func(major: u32, minor: u32, patch: u32, release: u32);
find_executable: func(argv0: string);
create_interp: func() -> u32;
preserve: func(data: u32);
release: func(data: u32);
obj_get_var2: func(interp: u32, part1: u32, part2: u32, flags: s32) -> u32;
obj_set_var2: func(interp: u32, part1: u32, part2: u32, value: u32, flags: s32) -> u32;
unset_var2: func(interp: u32, part1: string, part2: string, flags: s32) -> s32;
init: func(interp: u32) -> s32;
init_memory: func(interp: u32);
make_safe: func(interp: u32) -> s32;
get_obj_type: func(name: string) -> u32;
append_all_obj_types: func(interp: u32, obj: u32) -> s32;
convert_to_type: func(interp: u32, obj: u32, objtype: u32) -> s32;
create_obj_command: func(interp: u32, name: string, proc: u32, data: u32, deleteproc: u32) -> u32;
delete_command_from_token: func(interp: u32, token: u32) -> s32;
delete_interp: func(interp: u32);
interp_deleted: func(interp: u32) -> s32;
interp_active: func(interp: u32) -> s32; // optional
get_error_line: func(interp: u32) -> s32; // optional
set_error_line: func(interp: u32, line: s32); // optional
new_obj: func() -> u32;
new_unicode_obj: func(chars: u32, length: s32) -> u32;
new_string_obj: func(bytes: string) -> u32;
new_byte_array_obj: func(bytes: u32, length: s32) -> u32;
db_incr_ref_count: func(obj: u32, file: string, line: s32);
db_decr_ref_count: func(obj: u32, file: string, line: s32);
command_complete: func(cmd: string) -> s32;
allow_exceptions: func(interp: u32);
eval_obj_ex: func(interp: u32, obj: u32, flags: s32) -> s32;
eval_file: func(interp: u32, path: string) -> s32;
record_and_eval_obj: func(interp: u32, cmd: u32, flags: s32) -> s32;
expr_obj: func(interp: u32, obj: u32, result: u32) -> s32;
subst_obj: func(interp: u32, obj: u32, flags: s32) -> u32;
cancel_eval: func(interp: u32, result: u32, data: u32, flags: s32) -> s32; // optional
canceled: func(interp: u32, flags: s32) -> s32; // optional
reset_cancellation: func(interp: u32, force: s32) -> s32; // optional
set_interp_cancel_flags: func(interp: u32, flags: s32, force: s32); // optional
do_one_event: func(flags: s32) -> s32;
reset_result: func(interp: u32);
get_obj_result: func(interp: u32) -> u32;
set_obj_result: func(interp: u32, obj: u32);
get_unicode_from_obj: func(obj: u32, length: u32) -> u32;
get_string_from_obj: func(obj: u32, length: u32) -> u32;
create_exit_handler: func(token: u32);
delete_exit_handler: func(token: u32);
finalize_thread: func();
finalize: func();
`

// Symbol is the declaration of one foreign function.
type Symbol struct {
	Func     Func
	Name     string
	Optional bool

	ParamNames []string
	Params     []wit.Type
	Results    []wit.Type

	// Core signature the export must have.
	CoreParams  []api.ValueType
	CoreResults []api.ValueType
}

// Signature renders the core signature, e.g. "(i32, i32) -> i32".
func (s *Symbol) Signature() string {
	return coreSignature(s.CoreParams, s.CoreResults)
}

var symbols = mustParseSymbols(apiWIT)

// Symbols returns the declarations of every foreign function in table
// order.
func Symbols() []Symbol {
	out := make([]Symbol, len(symbols))
	copy(out, symbols[:])
	return out
}

// Lookup returns the declaration of f.
func (f Func) Lookup() *Symbol {
	if f < 0 || f >= NumFuncs {
		return nil
	}
	return &symbols[f]
}

func (f Func) String() string {
	if s := f.Lookup(); s != nil {
		return s.Name
	}
	return fmt.Sprintf("func(%d)", int(f))
}

// SymbolByName finds a declaration by export name.
func SymbolByName(name string) (*Symbol, bool) {
	for i := range symbols {
		if symbols[i].Name == name {
			return &symbols[i], true
		}
	}
	return nil, false
}

var witFuncPattern = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?;\s*(//\s*optional)?$`)

func mustParseSymbols(text string) [NumFuncs]Symbol {
	syms, err := parseSymbols(text)
	if err != nil {
		panic(fmt.Sprintf("native: %v", err))
	}
	return syms
}

// parseSymbols reads one "name: func(params) -> result;" declaration per
// line.
func parseSymbols(text string) ([NumFuncs]Symbol, error) {
	var out [NumFuncs]Symbol
	n := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := witFuncPattern.FindStringSubmatch(line)
		if m == nil {
			return out, errors.ParseFailed("declaration "+line, nil)
		}
		if n >= int(NumFuncs) {
			return out, errors.InvalidInput(errors.PhaseParse, "too many declarations")
		}

		sym := Symbol{Func: Func(n), Name: m[1], Optional: m[4] != ""}
		for _, p := range splitParams(m[2]) {
			name, typStr := "", p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				name, typStr = strings.TrimSpace(p[:idx]), strings.TrimSpace(p[idx+1:])
			}
			t, err := wit.ParseType(typStr)
			if err != nil {
				return out, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse param type "+typStr)
			}
			sym.ParamNames = append(sym.ParamNames, name)
			sym.Params = append(sym.Params, t)
		}
		if res := strings.TrimSpace(m[3]); res != "" {
			t, err := wit.ParseType(res)
			if err != nil {
				return out, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse result type "+res)
			}
			sym.Results = []wit.Type{t}
		}

		var err error
		if sym.CoreParams, err = flattenAll(sym.Params); err != nil {
			return out, err
		}
		if sym.CoreResults, err = flattenAll(sym.Results); err != nil {
			return out, err
		}
		out[n] = sym
		n++
	}
	if n != int(NumFuncs) {
		return out, errors.SizeMismatch("symbol table", uint32(n), uint32(NumFuncs))
	}
	return out, nil
}

func splitParams(s string) []string {
	var result []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// flatten maps a WIT type to the core values carrying it.
func flatten(t wit.Type) ([]api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}, nil
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}, nil
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}, nil
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}, nil
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil
	}
	return nil, errors.Unsupported(errors.PhaseParse, fmt.Sprintf("WIT type %T in foreign signature", t))
}

func flattenAll(types []wit.Type) ([]api.ValueType, error) {
	var out []api.ValueType
	for _, t := range types {
		flat, err := flatten(t)
		if err != nil {
			return nil, err
		}
		out = append(out, flat...)
	}
	return out, nil
}

func coreSignature(params, results []api.ValueType) string {
	name := func(ts []api.ValueType) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	if len(results) == 0 {
		return "(" + name(params) + ")"
	}
	return "(" + name(params) + ") -> " + name(results)
}
