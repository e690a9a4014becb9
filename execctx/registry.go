package execctx

import (
	"sync"

	"github.com/wippyai/script-core/thread"
)

// registry is the process-wide directory of one context variant, keyed by
// thread and then by interpreter. It is what makes cross-thread purge
// possible: each thread only ever reads its own map.
type registry[T Context] struct {
	mu      sync.Mutex
	threads map[thread.ID]map[uint64]T
}

func newRegistry[T Context]() *registry[T] {
	return &registry[T]{threads: make(map[thread.ID]map[uint64]T)}
}

var (
	engines      = newRegistry[*EngineContext]()
	interactives = newRegistry[*InteractiveContext]()
	tests        = newRegistry[*TestContext]()
	variables    = newRegistry[*VariableContext]()
)

func (r *registry[T]) get(tid thread.ID, interp uint64) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.threads[tid][interp]
	return c, ok
}

// putIfAbsent registers c unless the pair already has a live context, in
// which case the existing one is returned.
func (r *registry[T]) putIfAbsent(c T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byInterp := r.threads[c.ThreadID()]
	if byInterp == nil {
		byInterp = make(map[uint64]T)
		r.threads[c.ThreadID()] = byInterp
	}
	if existing, ok := byInterp[c.InterpreterID()]; ok && !existing.Released() {
		return existing, false
	}
	byInterp[c.InterpreterID()] = c
	return c, true
}

func (r *registry[T]) remove(tid thread.ID, interp uint64) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byInterp := r.threads[tid]
	c, ok := byInterp[interp]
	if !ok {
		return c, false
	}
	delete(byInterp, interp)
	if len(byInterp) == 0 {
		delete(r.threads, tid)
	}
	return c, true
}

// removeInterp detaches every context of interp, optionally leaving the
// contexts of one thread in place.
func (r *registry[T]) removeInterp(interp uint64, keep thread.ID) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for tid, byInterp := range r.threads {
		if keep != 0 && tid == keep {
			continue
		}
		c, ok := byInterp[interp]
		if !ok {
			continue
		}
		delete(byInterp, interp)
		if len(byInterp) == 0 {
			delete(r.threads, tid)
		}
		out = append(out, c)
	}
	return out
}

// removeThread detaches every context of tid across all interpreters.
func (r *registry[T]) removeThread(tid thread.ID) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	byInterp := r.threads[tid]
	delete(r.threads, tid)
	out := make([]T, 0, len(byInterp))
	for _, c := range byInterp {
		out = append(out, c)
	}
	return out
}

func (r *registry[T]) count(interp uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, byInterp := range r.threads {
		if _, ok := byInterp[interp]; ok {
			n++
		}
	}
	return n
}
