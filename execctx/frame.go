package execctx

import (
	"sort"
	"sync"
)

// FrameFlags describe a call frame.
type FrameFlags uint8

const (
	FrameGlobal FrameFlags = 1 << iota
	FrameProcedure
)

// Frame is a variable scope. The global frame of an interpreter is shared
// by every thread, so variable access is synchronized.
type Frame struct {
	name  string
	flags FrameFlags
	mu    sync.RWMutex
	vars  map[string]string
}

// NewFrame creates an empty frame.
func NewFrame(name string, flags FrameFlags) *Frame {
	return &Frame{
		name:  name,
		flags: flags,
		vars:  make(map[string]string),
	}
}

func (f *Frame) Name() string { return f.name }

func (f *Frame) IsGlobal() bool { return f.flags&FrameGlobal != 0 }

// Get returns the value of a variable.
func (f *Frame) Get(name string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vars[name]
	return v, ok
}

// Set assigns a variable.
func (f *Frame) Set(name, value string) {
	f.mu.Lock()
	f.vars[name] = value
	f.mu.Unlock()
}

// Unset removes a variable and reports whether it existed.
func (f *Frame) Unset(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vars[name]; !ok {
		return false
	}
	delete(f.vars, name)
	return true
}

// Names returns the sorted variable names.
func (f *Frame) Names() []string {
	f.mu.RLock()
	names := make([]string, 0, len(f.vars))
	for n := range f.vars {
		names = append(names, n)
	}
	f.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Clear removes every variable.
func (f *Frame) Clear() {
	f.mu.Lock()
	clear(f.vars)
	f.mu.Unlock()
}

// CallStack is the frame stack of one thread. The bottom frame is pinned:
// it is pushed once when the stack is created and never popped.
type CallStack struct {
	frames []*Frame
}

// NewCallStack creates a stack whose pinned bottom frame is base.
func NewCallStack(base *Frame) *CallStack {
	s := &CallStack{frames: make([]*Frame, 0, 8)}
	s.Push(base)
	return s
}

// Push adds a frame on top of the stack.
func (s *CallStack) Push(f *Frame) {
	s.frames = append(s.frames, f)
}

// Pop removes the top frame. The pinned bottom frame is never removed.
func (s *CallStack) Pop() (*Frame, bool) {
	if len(s.frames) <= 1 {
		return nil, false
	}
	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	return f, true
}

// Top returns the current frame.
func (s *CallStack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Bottom returns the pinned frame.
func (s *CallStack) Bottom() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[0]
}

// Depth returns the number of frames on the stack.
func (s *CallStack) Depth() int { return len(s.frames) }

// Count returns how many times f appears on the stack.
func (s *CallStack) Count(f *Frame) int {
	n := 0
	for _, fr := range s.frames {
		if fr == f {
			n++
		}
	}
	return n
}

func (s *CallStack) clear() {
	clear(s.frames)
	s.frames = s.frames[:0]
}
