package interp

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
)

// event is a queued script. done runs once after the script was
// evaluated or discarded.
type event struct {
	script string
	done   func()
}

func (e event) finish() {
	if e.done != nil {
		e.done()
	}
}

// eventQueue holds scripts queued for asynchronous evaluation. They are
// drained on the thread that calls ProcessEvents.
type eventQueue struct {
	mu      sync.Mutex
	pending []event
	limit   int
	closed  bool
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{limit: limit}
}

func (q *eventQueue) push(e event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Closed(errors.PhaseInvoke, "event queue")
	}
	if len(q.pending) >= q.limit {
		return errors.New(errors.PhaseInvoke, errors.KindOutOfBounds).
			Detail("event queue is full (%d pending)", len(q.pending)).Build()
	}
	q.pending = append(q.pending, e)
	return nil
}

// requeue puts events back at the front, ahead of anything queued since
// they were drained. The limit does not apply.
func (q *eventQueue) requeue(events []event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(append([]event(nil), events...), q.pending...)
	return true
}

// drain takes the pending scripts; scripts queued while they run wait for
// the next drain.
func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// close discards the pending events and returns them.
func (q *eventQueue) close() []event {
	q.mu.Lock()
	q.closed = true
	out := q.pending
	q.pending = nil
	q.mu.Unlock()
	return out
}

// QueueScript schedules script for asynchronous evaluation.
func (i *Interpreter) QueueScript(script string) error {
	return i.QueueScriptFunc(script, nil)
}

// QueueScriptFunc schedules script and runs done once it was evaluated or
// discarded. done does not run when queueing fails.
func (i *Interpreter) QueueScriptFunc(script string, done func()) error {
	if err := i.Check(errors.PhaseInvoke); err != nil {
		return err
	}
	return i.events.push(event{script: script, done: done})
}

// PendingEvents returns the number of queued scripts.
func (i *Interpreter) PendingEvents() int { return i.events.len() }

// ProcessEvents evaluates the queued scripts on the calling thread and
// returns how many ran. Script failures are logged. It stops early with
// ctx's error when ctx is done; the scripts not yet run stay queued.
func (i *Interpreter) ProcessEvents(ctx context.Context) (int, error) {
	n := 0
	events := i.events.drain()
	for k, e := range events {
		if err := ctx.Err(); err != nil {
			i.putBack(events[k:])
			return n, err
		}
		res, err := i.Eval(ctx, e.script)
		e.finish()
		n++
		if err != nil {
			Logger().Warn("queued script failed",
				diag.PriorityScript.Field(),
				zap.Uint64("interpreter", i.id),
				zap.Int("line", res.ErrorLine),
				zap.Error(err))
		}
	}
	return n, nil
}

func (i *Interpreter) putBack(events []event) {
	if i.events.requeue(events) {
		return
	}
	for _, e := range events {
		e.finish()
	}
	Logger().Warn("queued scripts discarded",
		diag.PriorityScript.Field(),
		zap.Uint64("interpreter", i.id),
		zap.Int("count", len(events)))
}
