package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/infra/metrics"
	"image-analysis-backend/internal/infra/worker"
)

// Callback receives job transition notifications. Callbacks run on the
// registry's dispatch goroutine, never on a worker goroutine, and see the
// transitions of a single job in the order they occurred.
type Callback func(model.JobUpdate)

// Subscription identifies a registered callback so it can be removed.
// Subscriptions returned for unknown job ids are inert.
type Subscription struct {
	jobID string
	id    int64
	reg   *Registry
}

// Cancel removes the callback; safe to call on inert or already-cancelled
// subscriptions.
func (s *Subscription) Cancel() {
	if s == nil || s.reg == nil {
		return
	}
	s.reg.unsubscribe(s.jobID, s.id)
}

type jobEntry struct {
	job       *model.Job
	handle    *worker.Handle
	subs      map[int64]Callback
	startedAt time.Time
}

type dispatch struct {
	callbacks []Callback
	update    model.JobUpdate
}

// Registry is the process-wide table of ephemeral jobs. It is an explicit
// service instance: constructed once at startup and passed by reference to
// every consumer. It owns no persistent state; a restart loses all entries
// and clients fall back to polling the result store.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	nextSub int64

	// Pending notifications drained by the dispatch goroutine. Enqueued
	// under mu in transition order, so subscribers of one job observe its
	// transitions in order.
	pending []dispatch
	cond    *sync.Cond
	closed  bool

	log *zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	regLog := logger.With().Str("component", "JobRegistry").Logger()
	r := &Registry{
		jobs: make(map[string]*jobEntry),
		log:  &regLog,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Run drains the notification queue until ctx is cancelled. Worker
// goroutines never invoke subscriber callbacks directly; they enqueue and
// this loop performs the fan-out.
func (r *Registry) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.closed = true
		r.cond.Broadcast()
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		for len(r.pending) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.pending) == 0 && r.closed {
			r.mu.Unlock()
			return ctx.Err()
		}
		d := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		for _, cb := range d.callbacks {
			cb(d.update)
		}
	}
}

// Create allocates a queued job and registers it.
func (r *Registry) Create(kind string) (*model.Job, error) {
	job, err := model.NewJob(kind)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.jobs[job.ID] = &jobEntry{job: job, subs: make(map[int64]Callback)}
	r.mu.Unlock()
	r.log.Debug().Str("job_id", job.ID).Str("kind", kind).Msg("job created")
	cp := *job
	return &cp, nil
}

// AttachHandle links the scheduled unit of work so Cancel can abort it
// before it starts.
func (r *Registry) AttachHandle(id string, h *worker.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok {
		e.handle = h
	}
}

// Get returns a snapshot of the job, or false when unknown.
func (r *Registry) Get(id string) (*model.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *e.job
	return &cp, true
}

// List returns a page of job snapshots, newest first, optionally filtered by
// status, plus the total matching count.
func (r *Registry) List(status string, start, limit int) ([]*model.Job, int) {
	r.mu.Lock()
	all := make([]*model.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		if status != "" && string(e.job.Status) != status {
			continue
		}
		cp := *e.job
		all = append(all, &cp)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if start >= total {
		return []*model.Job{}, total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[start:end], total
}

// Stats counts jobs by status.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := map[string]int{
		"total": 0, "queued": 0, "processing": 0,
		"completed": 0, "failed": 0, "cancelled": 0,
	}
	for _, e := range r.jobs {
		stats["total"]++
		stats[string(e.job.Status)]++
	}
	return stats
}

// Subscribe registers a notification sink for the job. Subscribing to an
// unknown id (for example a job completed and swept before the subscription
// was processed) is a silent no-op returning an inert subscription.
func (r *Registry) Subscribe(id string, cb Callback) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		r.log.Debug().Str("job_id", id).Msg("subscribe to unknown job ignored")
		return &Subscription{}
	}
	r.nextSub++
	e.subs[r.nextSub] = cb
	return &Subscription{jobID: id, id: r.nextSub, reg: r}
}

func (r *Registry) unsubscribe(jobID string, subID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[jobID]; ok {
		delete(e.subs, subID)
	}
}

// MarkProcessing transitions QUEUED -> PROCESSING.
func (r *Registry) MarkProcessing(id, message string) {
	r.transition(id, func(e *jobEntry) bool {
		if e.job.Status != model.JobStatusQueued {
			return false
		}
		e.job.Status = model.JobStatusProcessing
		e.job.Message = message
		e.startedAt = time.Now()
		return true
	})
}

// UpdateProgress records staged progress on a processing job.
func (r *Registry) UpdateProgress(id string, pct int, message string) {
	r.transition(id, func(e *jobEntry) bool {
		if e.job.Status.Terminal() {
			return false
		}
		e.job.Status = model.JobStatusProcessing
		e.job.Progress = pct
		if message != "" {
			e.job.Message = message
		}
		return true
	})
}

// Complete moves the job to COMPLETED and stores its result. A late call
// for a job that was cancelled while running is ignored: the terminal state
// is absorbing and the computed result is discarded.
func (r *Registry) Complete(id string, result any) {
	r.transition(id, func(e *jobEntry) bool {
		if e.job.Status.Terminal() {
			return false
		}
		e.job.Status = model.JobStatusCompleted
		e.job.Progress = 100
		e.job.Message = "completed"
		e.job.Result = result
		r.observeTerminal(e)
		return true
	})
}

// Fail moves the job to FAILED with an error message.
func (r *Registry) Fail(id, errMsg string) {
	r.transition(id, func(e *jobEntry) bool {
		if e.job.Status.Terminal() {
			return false
		}
		e.job.Status = model.JobStatusFailed
		e.job.Message = "failed"
		e.job.Error = errMsg
		r.observeTerminal(e)
		return true
	})
}

// Cancel requests cooperative cancellation. It returns false without any
// transition when the job is unknown or already terminal. A unit of work
// that has not begun is aborted via its handle; one already executing runs
// to completion and its late Complete/Fail is ignored.
func (r *Registry) Cancel(id string) bool {
	var cancelled bool
	r.transition(id, func(e *jobEntry) bool {
		if e.job.Status.Terminal() {
			return false
		}
		if e.handle != nil {
			// Best effort: only aborts if still queued.
			e.handle.TryCancel()
		}
		e.job.Status = model.JobStatusCancelled
		e.job.Message = "cancelled"
		r.observeTerminal(e)
		cancelled = true
		return true
	})
	return cancelled
}

// Remove deletes the job entry. Running jobs must be cancelled first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !e.job.Status.Terminal() {
		return domain.ErrJobRunning
	}
	delete(r.jobs, id)
	return nil
}

// Sweep removes terminal jobs older than maxAge and returns how many were
// removed. Running it twice in a row removes nothing the second time.
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.jobs {
		if e.job.Status.Terminal() && e.job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	if n > 0 {
		r.log.Info().Int("count", n).Msg("swept terminal jobs")
	}
	return n
}

// transition applies fn under the lock and, when it reports a state change,
// enqueues one notification carrying the new snapshot for every current
// subscriber. Unknown ids are logged no-ops, never errors: the caller may
// legitimately race a sweep.
func (r *Registry) transition(id string, fn func(*jobEntry) bool) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug().Str("job_id", id).Msg("transition on unknown job ignored")
		return
	}
	if !fn(e) {
		r.mu.Unlock()
		r.log.Debug().Str("job_id", id).Str("status", string(e.job.Status)).Msg("transition ignored in terminal state")
		return
	}
	var cbs []Callback
	if len(e.subs) > 0 {
		cbs = make([]Callback, 0, len(e.subs))
		for _, cb := range e.subs {
			cbs = append(cbs, cb)
		}
	}
	u := e.job.Update()
	if cbs != nil && !r.closed {
		r.pending = append(r.pending, dispatch{callbacks: cbs, update: u})
		r.cond.Signal()
	}
	r.mu.Unlock()
}

// observeTerminal records metrics; called under the lock right after a job
// reaches a terminal state.
func (r *Registry) observeTerminal(e *jobEntry) {
	metrics.IncJobProcessed(e.job.Kind, string(e.job.Status))
	if !e.startedAt.IsZero() {
		metrics.ObserveJobDuration(e.job.Kind, time.Since(e.startedAt))
	}
}
