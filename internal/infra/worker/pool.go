package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"image-analysis-backend/internal/infra/metrics"
)

// Task is a blocking, CPU- or disk-bound unit of work. Its return value and
// error are delivered to whoever awaits the handle; they are never dropped
// silently.
type Task func(ctx context.Context) (any, error)

// DefaultSize is the pool size used when none is configured: enough threads
// for CPU work plus headroom for disk-bound packaging.
func DefaultSize() int {
	n := runtime.NumCPU() + 2
	if n < 4 {
		n = 4
	}
	return n
}

// Pool executes submitted tasks on a fixed set of goroutines. The queue is
// FIFO and unbounded: submissions beyond current capacity wait rather than
// being rejected. Queue depth is exported as a gauge so saturation is
// observable; there is no execution timeout.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Handle
	closed bool
	wg     sync.WaitGroup
	n      int
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultSize()
	}
	p := &Pool{n: workers}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines. ctx bounds the lifetime of the pool
// and is the context handed to every task.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	go func() {
		<-ctx.Done()
		p.shutdown()
	}()
}

// Stop prevents further dequeues and waits for in-flight tasks to finish.
// Tasks still waiting in the queue are failed with context.Canceled.
func (p *Pool) Stop() {
	p.shutdown()
	p.wg.Wait()
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	metrics.SetWorkerQueueDepth(0)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, h := range pending {
		if h.claim() {
			h.finish(nil, context.Canceled)
		}
	}
}

// Submit enqueues a task and returns a handle the caller can await. The
// queue never rejects; a nil task yields a handle that fails immediately.
func (p *Pool) Submit(task Task) *Handle {
	h := newHandle(task)
	if task == nil {
		h.claim()
		h.finish(nil, fmt.Errorf("worker: nil task"))
		return h
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.claim()
		h.finish(nil, context.Canceled)
		return h
	}
	p.queue = append(p.queue, h)
	// Published under the lock so concurrent submits and dequeues cannot
	// reorder stale depths.
	metrics.SetWorkerQueueDepth(len(p.queue))
	p.cond.Signal()
	p.mu.Unlock()
	return h
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		h := p.next()
		if h == nil {
			return
		}
		h.execute(ctx)
	}
}

// next pops the oldest queued handle, skipping ones cancelled before start.
func (p *Pool) next() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			return nil
		}
		h := p.queue[0]
		p.queue = p.queue[1:]
		metrics.SetWorkerQueueDepth(len(p.queue))
		if h.claim() {
			return h
		}
		// cancelled while queued; keep draining
	}
}
