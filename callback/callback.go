package callback

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/list"
)

// Callback wraps a script command prefix so foreign code can call it
// through any supported shape. At most one callback exists per name per
// interpreter.
type Callback struct {
	id     uuid.UUID
	name   string
	interp *interp.Interpreter
	args   []string
	flags  Flags

	marshal        MarshalFlags
	parameterNames []string
	description    string
	group          string

	mu         sync.Mutex
	adapters   [numShapes]*Adapter
	returnType reflect.Type
	paramTypes []reflect.Type
	paramFlags []MarshalFlags

	fetched  atomic.Int64
	reused   atomic.Int64
	created  atomic.Int64
	disposed atomic.Bool
}

// Option customizes a callback at creation.
type Option func(*Callback)

// WithMarshalFlags sets adapter-level marshal flags.
func WithMarshalFlags(f MarshalFlags) Option {
	return func(c *Callback) { c.marshal = f }
}

// WithParameterNames names the foreign parameters for UseParameterNames
// and by-ref variables.
func WithParameterNames(names ...string) Option {
	return func(c *Callback) { c.parameterNames = names }
}

// WithDescription attaches a description and group shown by listings.
func WithDescription(description, group string) Option {
	return func(c *Callback) {
		c.description = description
		c.group = group
	}
}

// Create returns the callback registered under name in the interpreter,
// creating and registering it when none exists. An empty name is replaced
// by the list form of args.
func Create(in *interp.Interpreter, name string, args []string, flags Flags, opts ...Option) (*Callback, error) {
	if in == nil {
		return nil, errors.InvalidInterpreter(errors.PhaseCallback, "interpreter is nil")
	}
	if err := in.Check(errors.PhaseCallback); err != nil {
		return nil, err
	}
	if name == "" {
		name = list.Join(args)
	}

	if cb, ok, err := lookup(in, name); ok || err != nil {
		return cb, err
	}

	c := &Callback{
		id:     uuid.New(),
		name:   name,
		interp: in,
		args:   append([]string(nil), args...),
		flags:  flags,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !in.AddCallback(c) {
		// Lost a race with another Create for the same name.
		if cb, ok, err := lookup(in, name); ok || err != nil {
			return cb, err
		}
		return nil, errors.New(errors.PhaseCallback, errors.KindInvalidInput).
			Detail("callback %q could not be registered", name).Build()
	}

	Logger().Debug("callback created",
		diag.PriorityCallback.Field(),
		zap.String("name", name),
		zap.String("id", c.id.String()),
		zap.Stringer("flags", flags))
	return c, nil
}

func lookup(in *interp.Interpreter, name string) (*Callback, bool, error) {
	existing, ok := in.LookupCallback(name)
	if !ok {
		return nil, false, nil
	}
	cb, ok := existing.(*Callback)
	if !ok {
		return nil, false, errors.New(errors.PhaseCallback, errors.KindInvalidInput).
			Detail("name %q is registered to a %T", name, existing).Build()
	}
	return cb, true, nil
}

func (c *Callback) ID() uuid.UUID { return c.id }

func (c *Callback) Name() string { return c.name }

func (c *Callback) Interpreter() *interp.Interpreter { return c.interp }

// Arguments returns a copy of the bound argument prefix.
func (c *Callback) Arguments() []string { return append([]string(nil), c.args...) }

func (c *Callback) Flags() Flags { return c.flags }

func (c *Callback) Description() string { return c.description }

func (c *Callback) Group() string { return c.group }

// Info is a snapshot of a callback for listings.
type Info struct {
	Name        string
	ID          string
	Script      string
	Flags       string
	Description string
	Group       string
	Fetched     int64
	Reused      int64
	Created     int64
}

// Info returns a snapshot of the callback and its adapter counters.
func (c *Callback) Info() Info {
	return Info{
		Name:        c.name,
		ID:          c.id.String(),
		Script:      list.Join(c.args),
		Flags:       c.flags.String(),
		Description: c.description,
		Group:       c.group,
		Fetched:     c.fetched.Load(),
		Reused:      c.reused.Load(),
		Created:     c.created.Load(),
	}
}

func (c *Callback) String() string {
	return fmt.Sprintf("callback %q (%s)", c.name, list.Join(c.args))
}

// Remove unregisters the callback. It reports whether the registration
// was still present.
func (c *Callback) Remove() bool {
	return c.interp.RemoveCallback(c.name, c)
}

// Dispose unregisters the callback and drops its adapters. Later
// invocations fail.
func (c *Callback) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.Remove()
	c.mu.Lock()
	c.adapters = [numShapes]*Adapter{}
	c.mu.Unlock()
}

func (c *Callback) checkDisposed() error {
	if c.disposed.Load() {
		return errors.Closed(errors.PhaseCallback, fmt.Sprintf("callback %q", c.name))
	}
	return nil
}

// signature returns the declared dynamic signature set by the last
// GetAdapter call.
func (c *Callback) signature() (reflect.Type, []reflect.Type, []MarshalFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.returnType, c.paramTypes, c.paramFlags
}
