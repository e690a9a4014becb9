// Package native binds the foreign interpreter library.
//
// A library is a WebAssembly module loaded through a Registry, which shares
// it by path and counts references. Bindings resolve the 48 foreign
// functions either by export name or through an address table the library
// publishes in linear memory:
//
//	offset 0   u32 size of the table in bytes (at least MinTableSize)
//	offset 4   u32 memory offset of the NUL-terminated export name of
//	           function 0, or 0 when the library does not provide it
//	...        one entry per Func in declaration order
//
// Each export is checked against the declared signature before it is bound.
// Required functions must all resolve; optional ones leave a nil accessor.
//
// The exit handler pins a Bindings behind a token in a handle table. The
// library calls the host function exit_proc with that token when its
// runtime shuts down, and exactly one of the exit callback or
// Clear/UnsetExitHandler frees the token.
package native
