package protocol

import (
	"sync"
	"sync/atomic"
)

// Ack is a one-shot reply carried inside a message. The receiver calls Done
// once it has released everything the message concerned; only the first call
// has any effect. Copies of an Ack share the same reply.
type Ack struct {
	state *ackState
}

type ackState struct {
	once  sync.Once
	reply func()
}

// NewAck returns an Ack that runs reply on the first Done.
func NewAck(reply func()) Ack {
	return Ack{state: &ackState{reply: reply}}
}

// Done fires the reply. Calls after the first, and calls on a zero Ack, do nothing.
func (a Ack) Done() {
	if a.state == nil {
		return
	}
	a.state.once.Do(func() {
		if a.state.reply != nil {
			a.state.reply()
		}
	})
}

// Task is a unit of work delegated to the compositor's loop, for operations
// that must touch a thread-affine resource. It runs at most once and must not
// dispatch another Task from inside itself.
type Task struct {
	state *taskState
}

type taskState struct {
	ran     atomic.Bool
	running atomic.Bool
	fn      func(any)
}

// NewTask boxes fn. The argument passed to fn is the resource the executing
// actor owns (the compositor passes its rasterizer).
func NewTask(fn func(resource any)) Task {
	return Task{state: &taskState{fn: fn}}
}

// Run executes the task against resource. It reports false when the task had
// already run, is empty, or is being re-entered.
func (t Task) Run(resource any) bool {
	if t.state == nil || t.state.fn == nil {
		return false
	}
	if !t.state.running.CompareAndSwap(false, true) {
		return false
	}
	defer t.state.running.Store(false)
	if !t.state.ran.CompareAndSwap(false, true) {
		return false
	}
	t.state.fn(resource)
	return true
}

// Ran reports whether the task has executed.
func (t Task) Ran() bool {
	return t.state != nil && t.state.ran.Load()
}
