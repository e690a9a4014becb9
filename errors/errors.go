package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // foreign library loading
	PhaseResolve  Phase = "resolve"  // symbol and address resolution
	PhaseBind     Phase = "bind"     // binding resolved symbols to callables
	PhaseExit     Phase = "exit"     // exit handler management
	PhaseContext  Phase = "context"  // execution context management
	PhaseCallback Phase = "callback" // callback creation and adapters
	PhaseInvoke   Phase = "invoke"   // callback invocation
	PhaseMarshal  Phase = "marshal"  // argument and by-ref marshaling
	PhaseThread   Phase = "thread"   // thread affinity checks
	PhaseEval     Phase = "eval"     // script evaluation
	PhaseParse    Phase = "parse"    // script and WIT parsing
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInterpreter    Kind = "invalid_interpreter"
	KindMissingRequiredSymbol Kind = "missing_required_symbol"
	KindSizeMismatch          Kind = "size_mismatch"
	KindUnsupportedOwner      Kind = "unsupported_owner"
	KindUnsupportedShape      Kind = "unsupported_shape"
	KindByRefTypeMismatch     Kind = "byref_type_mismatch"
	KindWrongThread           Kind = "wrong_thread"
	KindQueueFailure          Kind = "queue_failure"
	KindScriptFailure         Kind = "script_failure"
	KindLibraryNotFound       Kind = "library_not_found"
	KindBindFailure           Kind = "bind_failure"
	KindTypeMismatch          Kind = "type_mismatch"
	KindOutOfBounds           Kind = "out_of_bounds"
	KindInvalidData           Kind = "invalid_data"
	KindUnsupported           Kind = "unsupported"
	KindNotFound              Kind = "not_found"
	KindNotInitialized        Kind = "not_initialized"
	KindInvalidInput          Kind = "invalid_input"
	KindClosed                Kind = "closed"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Declared string
	Actual   string
	Detail   string
	Path     []string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Declared != "" || e.Actual != "" {
		b.WriteString(": declared type ")
		b.WriteString(e.Declared)
		b.WriteString(", actual type ")
		b.WriteString(e.Actual)
	}

	if e.Detail != "" {
		if e.Declared != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the parameter or field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Declared sets the declared type name
func (b *Builder) Declared(t string) *Builder {
	b.err.Declared = t
	return b
}

// Actual sets the observed type name
func (b *Builder) Actual(t string) *Builder {
	b.err.Actual = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Line sets the 1-based script line
func (b *Builder) Line(line int) *Builder {
	b.err.Line = line
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// KindOf returns the kind of err when it is, or wraps, a structured error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind, true
		case *MissingSymbolsError:
			return KindMissingRequiredSymbol, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// Sentinel targets for errors.Is matching on Kind alone.
var (
	ErrInvalidInterpreter    = &Error{Kind: KindInvalidInterpreter}
	ErrMissingRequiredSymbol = &Error{Kind: KindMissingRequiredSymbol}
	ErrSizeMismatch          = &Error{Kind: KindSizeMismatch}
	ErrUnsupportedOwner      = &Error{Kind: KindUnsupportedOwner}
	ErrUnsupportedShape      = &Error{Kind: KindUnsupportedShape}
	ErrByRefTypeMismatch     = &Error{Kind: KindByRefTypeMismatch}
	ErrWrongThread           = &Error{Kind: KindWrongThread}
	ErrQueueFailure          = &Error{Kind: KindQueueFailure}
	ErrScriptFailure         = &Error{Kind: KindScriptFailure}
	ErrLibraryNotFound       = &Error{Kind: KindLibraryNotFound}
	ErrBindFailure           = &Error{Kind: KindBindFailure}
	ErrClosed                = &Error{Kind: KindClosed}
)

// Convenience constructors for the failure taxonomy

// InvalidInterpreter creates an error for a missing or disposed interpreter
func InvalidInterpreter(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInterpreter,
		Detail: detail,
	}
}

// SizeMismatch creates an error for a foreign structure smaller than the compiled contract
func SizeMismatch(what string, have, need uint32) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindSizeMismatch,
		Detail: fmt.Sprintf("internal %s size mismatch, have %d, need at least %d", what, have, need),
		Value:  have,
	}
}

// UnsupportedOwner creates an error for an owner that cannot evaluate scripts
func UnsupportedOwner(owner any) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindUnsupportedOwner,
		Detail: fmt.Sprintf("unsupported owner type %T", owner),
		Value:  owner,
	}
}

// UnsupportedShape creates an error for an unknown foreign call shape
func UnsupportedShape(shape string, allowed []string) *Error {
	return &Error{
		Phase:  PhaseCallback,
		Kind:   KindUnsupportedShape,
		Detail: fmt.Sprintf("unsupported delegate type %q, must be one of: %s", shape, strings.Join(allowed, ", ")),
		Value:  shape,
	}
}

// ByRefTypeMismatch creates an error naming the offending parameter and both types
func ByRefTypeMismatch(index int, name, declared, actual string) *Error {
	return &Error{
		Phase:    PhaseMarshal,
		Kind:     KindByRefTypeMismatch,
		Path:     []string{fmt.Sprintf("%d", index), name},
		Declared: declared,
		Actual:   actual,
		Detail:   fmt.Sprintf("by-ref argument #%d %q type mismatch", index, name),
	}
}

// WrongThread creates an error for a thread-affine handle used from another thread
func WrongThread(what string, handle uint64, current, owner uint64) *Error {
	return &Error{
		Phase: PhaseThread,
		Kind:  KindWrongThread,
		Detail: fmt.Sprintf("wrong thread for %s 0x%X, current thread %d does not match %s thread %d",
			what, handle, current, what, owner),
		Value: handle,
	}
}

// QueueFailure creates an error for a failed asynchronous enqueue
func QueueFailure(cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindQueueFailure,
		Detail: "could not queue script for asynchronous evaluation",
		Cause:  cause,
	}
}

// ScriptFailure creates an error for a script that returned a non-success code
func ScriptFailure(result string, line int, cause error) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindScriptFailure,
		Detail: result,
		Line:   line,
		Cause:  cause,
	}
}

// LibraryNotFound creates an error for a foreign library that could not be located
func LibraryNotFound(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLibraryNotFound,
		Detail: fmt.Sprintf("library %q not found", path),
		Cause:  cause,
	}
}

// ResolveFailed creates a symbol resolution error embedding the platform message
func ResolveFailed(symbol, message string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindMissingRequiredSymbol,
		Detail: fmt.Sprintf("resolve symbol %s failed: %s", symbol, message),
		Value:  symbol,
	}
}

// BindFailed creates an error for a symbol whose calling convention does not match
func BindFailed(symbol string, cause error) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindBindFailure,
		Detail: fmt.Sprintf("bind symbol %s failed", symbol),
		Value:  symbol,
		Cause:  cause,
	}
}

// Closed creates an error for an operation on a released object
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error for foreign memory access
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("read of %d bytes at offset %d out of bounds", length, offset),
		Value:  offset,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// MissingSymbol represents a single unresolved required symbol
type MissingSymbol struct {
	Name    string // export name, e.g. "create_interp"
	Message string // resolver message
}

// MissingSymbolsError is returned when a binding set cannot resolve every required symbol
type MissingSymbolsError struct {
	Library string
	Symbols []MissingSymbol
}

// NewMissingSymbolsError creates an error from "name: message" pairs
func NewMissingSymbolsError(library string, symbols []MissingSymbol) *MissingSymbolsError {
	return &MissingSymbolsError{
		Library: library,
		Symbols: append([]MissingSymbol(nil), symbols...),
	}
}

func (e *MissingSymbolsError) Error() string {
	if len(e.Symbols) == 0 {
		return "[resolve] missing_required_symbol: no symbols specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[resolve] missing_required_symbol: %d required symbol(s) unresolved in %s:", len(e.Symbols), e.Library)
	for _, s := range e.Symbols {
		b.WriteString("\n  - ")
		b.WriteString(s.Name)
		if s.Message != "" {
			b.WriteString(": ")
			b.WriteString(s.Message)
		}
	}
	return b.String()
}

// Is reports whether target matches this error type or the missing symbol kind
func (e *MissingSymbolsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingSymbolsError:
		return true
	case *Error:
		return t.Kind == KindMissingRequiredSymbol
	}
	return false
}
