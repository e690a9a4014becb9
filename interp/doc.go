// Package interp is a small script interpreter used as the evaluation
// target of command callbacks.
//
// Scripts are sequences of commands separated by newlines or semicolons.
// Each command is a list of words; words in braces are literal, other words
// have $name references replaced by variable values. The built-in commands
// are list, set, unset, return, error, incr, concat and llength; hosts add
// their own with RegisterCommand.
//
// Variables live in the calling thread's variable context. The global frame
// is shared by all threads of an interpreter.
//
// ScriptThread runs an interpreter on a dedicated goroutine for callers that
// need to delegate evaluation to the interpreter's owner.
package interp
