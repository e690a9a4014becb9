package interp

import (
	"context"

	"github.com/wippyai/script-core/errors"
)

func (i *Interpreter) currentFrame(ctx context.Context) (*Frame, error) {
	vars, err := i.contexts.Variables(ctx, true)
	if err != nil {
		return nil, err
	}
	f := vars.CurrentFrame()
	if f == nil {
		return nil, errors.NotInitialized(errors.PhaseEval, "call frame")
	}
	return f, nil
}

// LookupVar reads a variable of the calling thread's current frame.
func (i *Interpreter) LookupVar(ctx context.Context, name string) (string, bool, error) {
	f, err := i.currentFrame(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := f.Get(name)
	return v, ok, nil
}

// GetVar reads a variable, failing when it does not exist.
func (i *Interpreter) GetVar(ctx context.Context, name string) (string, error) {
	v, ok, err := i.LookupVar(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NotFound(errors.PhaseEval, "variable", name)
	}
	return v, nil
}

// SetVar assigns a variable in the calling thread's current frame.
func (i *Interpreter) SetVar(ctx context.Context, name, value string) error {
	f, err := i.currentFrame(ctx)
	if err != nil {
		return err
	}
	f.Set(name, value)
	return nil
}

// UnsetVar removes a variable and reports whether it existed.
func (i *Interpreter) UnsetVar(ctx context.Context, name string) (bool, error) {
	f, err := i.currentFrame(ctx)
	if err != nil {
		return false, err
	}
	return f.Unset(name), nil
}
