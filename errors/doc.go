// Package errors provides structured error types for the script core.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Kind set mirrors the failure taxonomy of the execution core: configuration and
// binding failures (InvalidInterpreter, MissingRequiredSymbol, SizeMismatch,
// UnsupportedOwner, UnsupportedShape, ByRefTypeMismatch, WrongThread, QueueFailure,
// LibraryNotFound, BindFailure) and script failures (ScriptFailure).
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindByRefTypeMismatch).
//		Path("2", "count").
//		Declared("int32").
//		Actual("string").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SizeMismatch("native stubs", 64, 196)
//	err := errors.WrongThread("interpreter", h, current, owner)
//
// The Err* sentinels match on Kind alone, regardless of phase:
//
//	if errors.Is(err, scerrors.ErrWrongThread) { ... }
package errors
