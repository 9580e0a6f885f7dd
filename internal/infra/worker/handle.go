package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handle is the caller's reference to a submitted task. It can be awaited
// for the task's return value or error, and cancelled while the task is
// still queued. Once a worker has started the task it runs to completion;
// cancellation is advisory only.
type Handle struct {
	task Task
	done chan struct{}

	// 0 = queued, 1 = claimed by a worker, 2 = cancelled before start
	state atomic.Int32

	once   sync.Once
	result any
	err    error
}

func newHandle(task Task) *Handle {
	return &Handle{task: task, done: make(chan struct{})}
}

// claim marks the handle as picked up by a worker. Returns false when the
// handle was cancelled while queued.
func (h *Handle) claim() bool {
	return h.state.CompareAndSwap(0, 1)
}

// TryCancel aborts the task if it has not started executing. It returns
// false once a worker has claimed the task; the caller must then let it run
// to completion and discard the result.
func (h *Handle) TryCancel() bool {
	if h.state.CompareAndSwap(0, 2) {
		h.finish(nil, context.Canceled)
		return true
	}
	return false
}

// Started reports whether a worker has begun executing the task.
func (h *Handle) Started() bool { return h.state.Load() == 1 }

func (h *Handle) execute(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.finish(nil, fmt.Errorf("worker: task panic: %v\n%s", r, debug.Stack()))
		}
	}()
	res, err := h.task(ctx)
	h.finish(res, err)
}

func (h *Handle) finish(result any, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Await blocks until the task finishes (or ctx expires) and returns its
// value or propagated error. Errors raised inside the task, including
// recovered panics, surface here.
func (h *Handle) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

// Done exposes completion for select loops.
func (h *Handle) Done() <-chan struct{} { return h.done }
