package runtime

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/list"
	"github.com/wippyai/script-core/native"
)

func (r *Runtime) registerCommands() {
	r.interp.RegisterCommand("callbacks", r.cmdCallbacks)
	r.interp.RegisterCommand("contexts", r.cmdContexts)
	r.interp.RegisterCommand("exports", r.cmdExports)
	r.interp.RegisterCommand("objects", r.cmdObjects)
	r.interp.RegisterCommand("native", r.cmdNative)
}

func usage(text string) error {
	return errors.InvalidInput(errors.PhaseEval, fmt.Sprintf("wrong # args: should be %q", text))
}

func (r *Runtime) cmdCallbacks(_ context.Context, in *interp.Interpreter, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("callbacks")
	}
	names := in.Callbacks()
	slices.Sort(names)
	return list.Join(names), nil
}

func (r *Runtime) cmdContexts(_ context.Context, in *interp.Interpreter, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("contexts")
	}
	c := in.Contexts().Counts()
	return list.Join([]string{
		"engine", strconv.Itoa(c.Engine),
		"interactive", strconv.Itoa(c.Interactive),
		"test", strconv.Itoa(c.Test),
		"variable", strconv.Itoa(c.Variable),
	}), nil
}

func (r *Runtime) cmdExports(_ context.Context, _ *interp.Interpreter, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("exports")
	}
	var names []string
	for name, a := range r.Exports() {
		names = append(names, name+":"+a.Shape().String())
	}
	slices.Sort(names)
	return list.Join(names), nil
}

func (r *Runtime) cmdObjects(_ context.Context, in *interp.Interpreter, args []string) (string, error) {
	if len(args) != 1 {
		return "", usage("objects")
	}
	return list.Join(in.Objects()), nil
}

// cmdNative exposes the bound library: status, interps, create, delete
// and call.
func (r *Runtime) cmdNative(ctx context.Context, _ *interp.Interpreter, args []string) (string, error) {
	if len(args) < 2 {
		return "", usage("native option ?arg ...?")
	}
	b := r.Bindings()
	if b == nil {
		return "", errors.NotInitialized(errors.PhaseEval, "native library")
	}

	switch args[1] {
	case "status":
		return b.Status(), nil
	case "interps":
		var out []string
		for _, h := range b.Interps() {
			out = append(out, strconv.FormatUint(uint64(h), 10))
		}
		return list.Join(out), nil
	case "create":
		h, err := b.CreateInterp(ctx)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(h), 10), nil
	case "delete":
		if len(args) != 3 {
			return "", usage("native delete handle")
		}
		h, err := strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return "", errors.InvalidInput(errors.PhaseEval, "expected handle but got "+strconv.Quote(args[2]))
		}
		return "", b.DeleteInterp(ctx, uint32(h))
	case "call":
		if len(args) < 3 {
			return "", usage("native call function ?arg ...?")
		}
		sym, ok := native.SymbolByName(args[2])
		if !ok {
			return "", errors.NotFound(errors.PhaseEval, "function", args[2])
		}
		params, err := sym.EncodeArgs(args[3:])
		if err != nil {
			return "", err
		}
		res, err := b.Call(ctx, sym.Func, params...)
		if err != nil {
			return "", err
		}
		return sym.DecodeResults(res), nil
	}
	return "", errors.InvalidInput(errors.PhaseEval,
		fmt.Sprintf("bad option %q: must be call, create, delete, interps, or status", args[1]))
}
