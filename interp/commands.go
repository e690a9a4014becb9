package interp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/script-core/list"
)

// Command implements a script command. args[0] is the command name.
type Command func(ctx context.Context, in *Interpreter, args []string) (string, error)

// RegisterCommand adds or replaces a command.
func (i *Interpreter) RegisterCommand(name string, fn Command) {
	i.cmdMu.Lock()
	i.commands[name] = fn
	i.cmdMu.Unlock()
}

// UnregisterCommand removes a command and reports whether it existed.
func (i *Interpreter) UnregisterCommand(name string) bool {
	i.cmdMu.Lock()
	defer i.cmdMu.Unlock()
	if _, ok := i.commands[name]; !ok {
		return false
	}
	delete(i.commands, name)
	return true
}

// LookupCommand returns the command registered under name.
func (i *Interpreter) LookupCommand(name string) (Command, bool) {
	i.cmdMu.RLock()
	defer i.cmdMu.RUnlock()
	fn, ok := i.commands[name]
	return fn, ok
}

// Commands returns the sorted command names.
func (i *Interpreter) Commands() []string {
	i.cmdMu.RLock()
	names := make([]string, 0, len(i.commands))
	for n := range i.commands {
		names = append(names, n)
	}
	i.cmdMu.RUnlock()
	sort.Strings(names)
	return names
}

func wrongArgs(usage string) error {
	return fmt.Errorf("wrong # args: should be %q", usage)
}

func registerBuiltins(i *Interpreter) {
	i.RegisterCommand("list", cmdList)
	i.RegisterCommand("set", cmdSet)
	i.RegisterCommand("unset", cmdUnset)
	i.RegisterCommand("return", cmdReturn)
	i.RegisterCommand("error", cmdError)
	i.RegisterCommand("incr", cmdIncr)
	i.RegisterCommand("concat", cmdConcat)
	i.RegisterCommand("llength", cmdLlength)
	i.RegisterCommand("eval", cmdEval)
}

func cmdList(_ context.Context, _ *Interpreter, args []string) (string, error) {
	return list.Join(args[1:]), nil
}

func cmdSet(ctx context.Context, in *Interpreter, args []string) (string, error) {
	switch len(args) {
	case 2:
		v, err := in.GetVar(ctx, args[1])
		if err != nil {
			return "", err
		}
		return v, nil
	case 3:
		if err := in.SetVar(ctx, args[1], args[2]); err != nil {
			return "", err
		}
		return args[2], nil
	}
	return "", wrongArgs("set varName ?newValue?")
}

func cmdUnset(ctx context.Context, in *Interpreter, args []string) (string, error) {
	for _, name := range args[1:] {
		if _, err := in.UnsetVar(ctx, name); err != nil {
			return "", err
		}
	}
	return "", nil
}

func cmdReturn(_ context.Context, _ *Interpreter, args []string) (string, error) {
	switch len(args) {
	case 1:
		return "", &returnSignal{}
	case 2:
		return "", &returnSignal{value: args[1]}
	}
	return "", wrongArgs("return ?value?")
}

func cmdError(_ context.Context, _ *Interpreter, args []string) (string, error) {
	if len(args) != 2 {
		return "", wrongArgs("error message")
	}
	return "", fmt.Errorf("%s", args[1])
}

func cmdIncr(ctx context.Context, in *Interpreter, args []string) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", wrongArgs("incr varName ?increment?")
	}
	by := int64(1)
	if len(args) == 3 {
		n, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("expected integer but got %q", args[2])
		}
		by = n
	}

	cur := int64(0)
	if v, ok, err := in.LookupVar(ctx, args[1]); err != nil {
		return "", err
	} else if ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", fmt.Errorf("expected integer but got %q", v)
		}
		cur = n
	}

	out := strconv.FormatInt(cur+by, 10)
	if err := in.SetVar(ctx, args[1], out); err != nil {
		return "", err
	}
	return out, nil
}

func cmdConcat(_ context.Context, _ *Interpreter, args []string) (string, error) {
	parts := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		if t := strings.TrimSpace(a); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func cmdLlength(_ context.Context, _ *Interpreter, args []string) (string, error) {
	if len(args) != 2 {
		return "", wrongArgs("llength list")
	}
	elems, err := list.Split(args[1])
	if err != nil {
		return "", err
	}
	return strconv.Itoa(len(elems)), nil
}

func cmdEval(ctx context.Context, in *Interpreter, args []string) (string, error) {
	if len(args) < 2 {
		return "", wrongArgs("eval arg ?arg ...?")
	}
	res, err := in.Eval(ctx, strings.Join(args[1:], " "))
	if err != nil {
		return "", err
	}
	return res.Value, nil
}
