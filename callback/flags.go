package callback

import (
	"fmt"
	"strings"

	"github.com/wippyai/script-core/errors"
)

// Flags configure argument marshaling, invocation and failure policy of a
// callback.
type Flags uint64

const (
	// Arguments passes the foreign call arguments to the script.
	Arguments Flags = 1 << iota
	// CreateObject registers non-primitive arguments as opaque objects.
	CreateObject
	// ToString formats non-primitive arguments with fmt instead of
	// registering them, even when CreateObject is set.
	ToString
	// UseParameterNames precedes each argument with its parameter name.
	UseParameterNames

	// UseOwner evaluates through the interpreter's owner.
	UseOwner
	// ResetCancel clears pending cancellation before evaluating.
	ResetCancel
	// MustResetCancel forces a global reset that ignores pending requests.
	MustResetCancel
	// Asynchronous queues the script and returns immediately.
	Asynchronous
	// AsynchronousIfBusy queues only when the target is busy.
	AsynchronousIfBusy

	// ByRefStrict fails when an output variable's type differs from the
	// declared parameter type.
	ByRefStrict
	// ReturnValue returns the object named by the result, if any.
	ReturnValue
	// DefaultValue returns the zero value of the return type on success.
	DefaultValue
	// AddReference takes a reference on a returned object.
	AddReference
	// RemoveReference drops a reference on a returned object.
	RemoveReference

	// FireAndForget removes the registration after the first invocation.
	FireAndForget
	// Complain logs failed invocations.
	Complain
	// ThrowOnError returns script failures to the caller.
	ThrowOnError
	// DisposeThread releases the calling thread's contexts afterwards.
	DisposeThread
)

// Default is the flag set used when none is configured.
const Default = Arguments | CreateObject | ResetCancel | Complain

var flagNames = []struct {
	flag Flags
	name string
}{
	{Arguments, "arguments"},
	{CreateObject, "create"},
	{ToString, "tostring"},
	{UseParameterNames, "useparameternames"},
	{UseOwner, "useowner"},
	{ResetCancel, "resetcancel"},
	{MustResetCancel, "mustresetcancel"},
	{Asynchronous, "asynchronous"},
	{AsynchronousIfBusy, "asynchronousifbusy"},
	{ByRefStrict, "byrefstrict"},
	{ReturnValue, "returnvalue"},
	{DefaultValue, "defaultvalue"},
	{AddReference, "addreference"},
	{RemoveReference, "removereference"},
	{FireAndForget, "fireandforget"},
	{Complain, "complain"},
	{ThrowOnError, "throwonerror"},
	{DisposeThread, "disposethread"},
}

func (f Flags) Has(flag Flags) bool { return f&flag == flag }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlags converts flag names, case-insensitive, into a flag set. The
// name "default" stands for Default.
func ParseFlags(names []string) (Flags, error) {
	var f Flags
outer:
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case "default":
			f |= Default
			continue
		case "none":
			continue
		}
		for _, n := range flagNames {
			if n.name == name {
				f |= n.flag
				continue outer
			}
		}
		return 0, errors.InvalidInput(errors.PhaseCallback, fmt.Sprintf("unknown callback flag %q", raw))
	}
	return f, nil
}

// MarshalFlags refine how a single parameter, or the adapter as a whole,
// is marshaled.
type MarshalFlags uint32

const (
	// MarshalByRef marks an output parameter.
	MarshalByRef MarshalFlags = 1 << iota
	// MarshalDynamicCallback forces the dynamic shape.
	MarshalDynamicCallback
	// MarshalNoGenericCallback refuses the generic shape for plain
	// signatures.
	MarshalNoGenericCallback
)
